package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/otpbroker/internal/metrics"
	"github.com/MrEthical07/otpbroker/internal/stores"
	"github.com/MrEthical07/otpbroker/jwt"
)

type SessionEvents struct {
	SessionCreated string
	ExchangeFailed string
	Logout         string
}

// SessionDeps captures sign-in exchange, validation and logout dependencies.
type SessionDeps struct {
	Common

	SessionTTL time.Duration

	ConsumeSignInToken func(context.Context, string) (string, error)
	Users              Users

	NewSessionID  func() (string, error)
	IsSessionID   func(string) bool
	SaveSession   func(context.Context, stores.SessionRecord, time.Duration) error
	GetSession    func(context.Context, string) (*stores.SessionRecord, error)
	DeleteSession func(context.Context, string) error

	CreateAccess func(uid, sid, email, role string) (string, time.Time, error)
	ParseAccess  func(string) (*jwt.AccessClaims, error)

	Events SessionEvents
}

// SessionIssue is returned by a successful sign-in exchange.
type SessionIssue struct {
	AccessToken string
	SessionID   string
	ExpiresAt   time.Time
	User        UserRecord
}

// ValidatedSession is the flow-local validation result.
type ValidatedSession struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

func normalizeSessionDeps(deps *SessionDeps) {
	normalizeCommon(&deps.Common)
	if deps.IsSessionID == nil {
		deps.IsSessionID = func(s string) bool { return s != "" }
	}
}

// RunExchangeSignInToken consumes a sign-in token, creates a session record
// and signs an access token bound to it.
func RunExchangeSignInToken(ctx context.Context, token string, deps SessionDeps) (*SessionIssue, error) {
	normalizeSessionDeps(&deps)
	if deps.ConsumeSignInToken == nil || deps.Users.GetByEmail == nil || deps.NewSessionID == nil ||
		deps.SaveSession == nil || deps.DeleteSession == nil || deps.CreateAccess == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email, err := deps.ConsumeSignInToken(ctx, token)
	if err != nil {
		return nil, err
	}
	emailHash := deps.KeyHash(email)

	user, err := deps.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.EmitAudit(ctx, deps.Events.ExchangeFailed, false, "", emailHash, "", err, nil)
			return nil, deps.Errors.UserNotFound
		}
		return nil, deps.Internal(ctx, "exchange.get_user", err)
	}
	if user.Status == deps.Users.DisabledStatus {
		deps.EmitAudit(ctx, deps.Events.ExchangeFailed, false, user.ID, emailHash, "", deps.Errors.AccountDisabled, nil)
		return nil, deps.Errors.AccountDisabled
	}

	sid, err := deps.NewSessionID()
	if err != nil {
		return nil, deps.Internal(ctx, "exchange.session_id", err)
	}
	now := deps.Now().UTC()
	rec := stores.SessionRecord{
		SessionID: sid,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(deps.SessionTTL),
	}
	if err := deps.SaveSession(ctx, rec, deps.SessionTTL); err != nil {
		return nil, deps.Internal(ctx, "exchange.save_session", err)
	}

	access, expiresAt, err := deps.CreateAccess(user.ID, sid, user.Email, user.Role)
	if err != nil {
		_ = deps.DeleteSession(ctx, sid)
		return nil, deps.Internal(ctx, "exchange.sign_access", err)
	}

	deps.MetricInc(metrics.MetricSessionCreated)
	deps.EmitAudit(ctx, deps.Events.SessionCreated, true, user.ID, emailHash, sid, nil, nil)

	return &SessionIssue{
		AccessToken: access,
		SessionID:   sid,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// RunValidate verifies an access token and requires its session to exist.
func RunValidate(ctx context.Context, tokenStr string, deps SessionDeps) (*ValidatedSession, error) {
	normalizeSessionDeps(&deps)
	if deps.ParseAccess == nil || deps.GetSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		deps.MetricInc(metrics.MetricValidateFailure)
		return nil, deps.Errors.Unauthorized
	}

	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		deps.MetricInc(metrics.MetricValidateFailure)
		return nil, deps.Errors.Unauthorized
	}

	rec, err := deps.GetSession(ctx, claims.SID)
	if err != nil {
		deps.MetricInc(metrics.MetricValidateFailure)
		if errors.Is(err, stores.ErrSessionNotFound) {
			return nil, deps.Errors.SessionNotFound
		}
		return nil, deps.Internal(ctx, "validate.get_session", err)
	}
	if rec.UserID != claims.UID {
		deps.MetricInc(metrics.MetricValidateFailure)
		return nil, deps.Errors.Unauthorized
	}

	deps.MetricInc(metrics.MetricValidateSuccess)
	out := &ValidatedSession{
		UserID:    claims.UID,
		Email:     rec.Email,
		Role:      rec.Role,
		SessionID: claims.SID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// RunLogout deletes a session record. Deleting an unknown session succeeds.
func RunLogout(ctx context.Context, sessionID string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)
	if deps.DeleteSession == nil {
		return deps.Errors.EngineNotReady
	}

	sessionID = strings.TrimSpace(sessionID)
	if !deps.IsSessionID(sessionID) {
		return deps.Errors.InvalidToken
	}
	if err := deps.DeleteSession(ctx, sessionID); err != nil {
		return deps.Internal(ctx, "logout.delete_session", err)
	}

	deps.MetricInc(metrics.MetricLogout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, "", "", sessionID, nil, nil)
	return nil
}
