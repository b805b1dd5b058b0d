package otpbroker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpbroker/internal"
	internalaudit "github.com/MrEthical07/otpbroker/internal/audit"
	"github.com/MrEthical07/otpbroker/internal/flows"
	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/security"
	"github.com/MrEthical07/otpbroker/internal/stores"
	"github.com/MrEthical07/otpbroker/jwt"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the broker. It is configured once through [Builder] and is safe
// for concurrent use afterwards.
type Engine struct {
	config       Config
	redis        redis.UniversalClient
	logger       *zap.Logger
	reporter     ErrorReporter
	limiter      *limiters.PurposeLimiter
	otpStore     *stores.OTPStore
	tokenStore   *stores.TokenStore
	sessionStore *stores.SessionStore
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	dummyHash    string
	jwtManager   *jwt.Manager
	userProvider UserProvider
	mailer       mailer.Mailer
	flows        flows.Service
}

// Close drains the audit dispatcher. It does not close the Redis client.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// Ping checks the Redis connection.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.redis == nil {
		return ErrEngineNotReady
	}
	return e.redis.Ping(ctx).Err()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// SecurityReport summarizes the effective security posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	algorithm := ""
	if e.jwtManager != nil {
		algorithm = e.jwtManager.Algorithm()
	}
	r := security.BuildReport(security.ReportInput{
		SigningAlgorithm: algorithm,
		OTPDigits:        e.config.OTP.Digits,
		OTPTTL:           e.config.OTP.TTL,
		OTPMaxAttempts:   e.config.OTP.MaxAttempts,
		TempTokenTTL:     e.config.Tokens.TempTokenTTL,
		SignInTokenTTL:   e.config.Tokens.SignInTokenTTL,
		SessionTTL:       e.config.Session.TTL,
		AccessTTL:        e.config.JWT.AccessTTL,
		Password: security.PasswordReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		IPThrottle:     e.config.RateLimit.EnableIPThrottle,
		SignUpEnabled:  e.config.Account.SignUpEnabled,
		AuditEnabled:   e.config.Audit.Enabled,
		MetricsEnabled: e.config.Metrics.Enabled,
	})

	return SecurityReport{
		SigningAlgorithm: r.SigningAlgorithm,
		OTPDigits:        r.OTPDigits,
		OTPTTL:           r.OTPTTL,
		OTPMaxAttempts:   r.OTPMaxAttempts,
		TempTokenTTL:     r.TempTokenTTL,
		SignInTokenTTL:   r.SignInTokenTTL,
		SessionTTL:       r.SessionTTL,
		AccessTTL:        r.AccessTTL,
		Argon2:           PasswordConfigReport(r.Argon2),
		IPThrottle:       r.IPThrottle,
		SignUpEnabled:    r.SignUpEnabled,
		AuditEnabled:     r.AuditEnabled,
		MetricsEnabled:   r.MetricsEnabled,
		Warnings:         r.Warnings,
	}
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// internalError logs and reports err, then hides it behind ErrInternal.
func (e *Engine) internalError(ctx context.Context, op string, err error) error {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie
	}
	e.metricInc(MetricInternalError)
	e.logger.Error("internal failure", zap.String("op", op), zap.Error(err))
	if e.reporter != nil {
		e.reporter.Report(ctx, err, map[string]string{"op": op})
	}
	return newInternalError(op, err)
}

// checkRate counts one request against purpose for identity. Rejections map
// to *RateLimitError; an unreachable counter store is an internal error.
func (e *Engine) checkRate(ctx context.Context, p limiters.Purpose, identity, ip string) error {
	_, err := e.limiter.Check(ctx, p, identity, ip)
	if err == nil {
		return nil
	}
	if retry, ok := limiters.RetryAfter(err); ok {
		e.emitRateLimit(ctx, p, internal.KeyHash(identity))
		return &RateLimitError{Purpose: string(p), RetryAfter: retry}
	}
	return e.internalError(ctx, "rate_limit."+string(p), err)
}

func normalizeEmail(email string) (string, bool) {
	normalized := internal.NormalizeEmail(email)
	return normalized, internal.ValidEmail(normalized)
}

func (e *Engine) deliverCode(ctx context.Context, email, code string) error {
	return e.mailer.Send(ctx, mailer.Message{
		To:      email,
		Subject: e.config.OTP.MailSubject,
		Text:    otpMailText(code, e.config.OTP.TTL),
	})
}

func otpMailText(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		"Your verification code is %s.\n\nIt expires in %s. If you did not request this code, you can ignore this email.\n",
		code, humanDuration(ttl),
	)
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.Round(time.Second).String()
}

func toFlowUser(u User) flows.UserRecord {
	return flows.UserRecord{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       uint8(u.Status),
	}
}

func fromFlowUser(u flows.UserRecord) User {
	return User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         Role(u.Role),
		Status:       AccountStatus(u.Status),
	}
}

func (e *Engine) flowUsers() flows.Users {
	return flows.Users{
		GetByEmail: func(ctx context.Context, email string) (flows.UserRecord, error) {
			u, err := e.userProvider.GetUserByEmail(ctx, email)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return toFlowUser(u), nil
		},
		Create: func(ctx context.Context, in flows.CreateUserInput) (flows.UserRecord, error) {
			u, err := e.userProvider.CreateUser(ctx, CreateUserInput{
				Email:        in.Email,
				Name:         in.Name,
				PasswordHash: in.PasswordHash,
				Role:         Role(in.Role),
				Status:       AccountStatus(in.Status),
			})
			if err != nil {
				return flows.UserRecord{}, err
			}
			return toFlowUser(u), nil
		},
		UpdateStatus: func(ctx context.Context, userID string, status uint8) error {
			return e.userProvider.UpdateStatus(ctx, userID, AccountStatus(status))
		},
		UpdatePasswordHash: e.userProvider.UpdatePasswordHash,

		ActiveStatus:   uint8(AccountActive),
		PendingStatus:  uint8(AccountPendingVerification),
		DisabledStatus: uint8(AccountDisabled),
	}
}

func (e *Engine) flowDeps() flows.Deps {
	common := flows.Common{
		ClientIPFromContext: clientIPFromContext,
		Now:                 time.Now,
		NormalizeEmail:      normalizeEmail,
		KeyHash:             internal.KeyHash,
		CheckRate:           e.checkRate,
		Internal:            e.internalError,
		MetricInc:           e.metricInc,
		EmitAudit:           e.emitAudit,
		Errors: flows.Errors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidEmail:       ErrInvalidEmail,
			InvalidOTP:         ErrInvalidOTP,
			InvalidToken:       ErrInvalidToken,
			InvalidPassword:    ErrInvalidPassword,
			InvalidName:        ErrInvalidName,
			AccountRoleInvalid: ErrAccountRoleInvalid,
			OTPNotFound:        ErrOTPNotFound,
			TokenNotFound:      ErrTokenNotFound,
			UserNotFound:       ErrUserNotFound,
			InvalidCredentials: ErrInvalidCredentials,
			Unauthorized:       ErrUnauthorized,
			SessionNotFound:    ErrSessionNotFound,
			AccountDisabled:    ErrAccountDisabled,
			SignUpDisabled:     ErrSignUpDisabled,
			AccountExists:      ErrAccountExists,
		},
	}
	users := e.flowUsers()

	return flows.Deps{
		OTP: flows.OTPDeps{
			Common:        common,
			Digits:        e.config.OTP.Digits,
			TTL:           e.config.OTP.TTL,
			MaxAttempts:   e.config.OTP.MaxAttempts,
			NewOTP:        internal.NewOTP,
			IsNumericCode: internal.IsNumericCode,
			HashOTP:       internal.HashOTP,
			SaveOTP:       e.otpStore.Save,
			ConsumeOTP:    e.otpStore.Consume,
			DeleteOTP:     e.otpStore.Delete,
			DeliverCode:   e.deliverCode,
			CompleteVerification: func(ctx context.Context, email string) (string, error) {
				return e.flows.CompleteVerification(ctx, email)
			},
			Events: flows.OTPEvents{
				OTPSent:             auditEventOTPSent,
				OTPSendFailure:      auditEventOTPSendFailure,
				OTPVerified:         auditEventOTPVerified,
				OTPMismatch:         auditEventOTPMismatch,
				OTPAttemptsExceeded: auditEventOTPAttemptsExceeded,
				OTPNotFound:         auditEventOTPNotFound,
			},
		},
		Token: flows.TokenDeps{
			Common:         common,
			TempTokenTTL:   e.config.Tokens.TempTokenTTL,
			SignInTokenTTL: e.config.Tokens.SignInTokenTTL,
			NewToken:       internal.NewToken,
			IsToken:        internal.IsToken,
			SaveToken:      e.tokenStore.Save,
			ConsumeToken:   e.tokenStore.Consume,
			Events: flows.TokenEvents{
				TempTokenIssued:     auditEventTempTokenIssued,
				TempTokenConsumed:   auditEventTempTokenConsumed,
				SignInTokenIssued:   auditEventSignInTokenIssued,
				SignInTokenConsumed: auditEventSignInTokenConsumed,
				TokenLookupFailure:  auditEventTokenLookupFailure,
			},
		},
		Account: flows.AccountDeps{
			Common:               common,
			SignUpEnabled:        e.config.Account.SignUpEnabled,
			DefaultRole:          string(e.config.Account.DefaultRole),
			MaxNameLength:        e.config.Account.MaxNameLength,
			MinPasswordBytes:     e.config.Password.MinBytes,
			MaxPasswordBytes:     e.config.Password.MaxBytes,
			UpgradeOnLogin:       e.config.Password.UpgradeOnLogin,
			RoleAllowed:          func(r string) bool { return e.config.signUpRoleAllowed(Role(r)) },
			HashPassword:         e.passwordHash.Hash,
			VerifyPassword:       e.passwordHash.Verify,
			PasswordNeedsUpgrade: e.passwordHash.NeedsUpgrade,
			DummyHash:            e.dummyHash,
			Users:                users,
			IssueTempToken:       func(ctx context.Context, email string) (string, error) { return e.flows.IssueTempToken(ctx, email) },
			IssueSignInToken:     func(ctx context.Context, email string) (string, error) { return e.flows.IssueSignInToken(ctx, email) },
			ResetRate:            e.limiter.Reset,
			Events: flows.AccountEvents{
				SignUpSuccess:      auditEventSignUpSuccess,
				SignUpFailure:      auditEventSignUpFailure,
				SignUpDuplicate:    auditEventSignUpDuplicate,
				LoginSuccess:       auditEventLoginSuccess,
				LoginFailure:       auditEventLoginFailure,
				AccountActivated:   auditEventAccountActivated,
				VerifiedNoAccount:  auditEventVerifiedWithoutUser,
				PasswordRehashFail: auditEventPasswordRehashFailure,
			},
		},
		Session: flows.SessionDeps{
			Common:             common,
			SessionTTL:         e.config.Session.TTL,
			ConsumeSignInToken: func(ctx context.Context, token string) (string, error) { return e.flows.ConsumeSignInToken(ctx, token) },
			Users:              users,
			NewSessionID:       internal.NewSessionID,
			IsSessionID:        internal.IsSessionID,
			SaveSession:        e.sessionStore.Save,
			GetSession:         e.sessionStore.Get,
			DeleteSession:      e.sessionStore.Delete,
			CreateAccess:       e.jwtManager.CreateAccess,
			ParseAccess:        e.jwtManager.ParseAccess,
			Events: flows.SessionEvents{
				SessionCreated: auditEventSessionCreated,
				ExchangeFailed: auditEventExchangeFailure,
				Logout:         auditEventLogout,
			},
		},
	}
}
