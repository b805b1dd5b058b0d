package flows

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/metrics"
)

type SignUpRequest struct {
	Name     string
	Email    string
	Password string
	Role     string
}

type AccountEvents struct {
	SignUpSuccess      string
	SignUpFailure      string
	SignUpDuplicate    string
	LoginSuccess       string
	LoginFailure       string
	AccountActivated   string
	VerifiedNoAccount  string
	PasswordRehashFail string
}

// AccountDeps captures sign-up, login and post-verification dependencies.
type AccountDeps struct {
	Common

	SignUpEnabled    bool
	DefaultRole      string
	MaxNameLength    int
	MinPasswordBytes int
	MaxPasswordBytes int
	UpgradeOnLogin   bool

	RoleAllowed func(string) bool

	HashPassword         func(string) (string, error)
	VerifyPassword       func(password, encoded string) (bool, error)
	PasswordNeedsUpgrade func(string) (bool, error)
	// DummyHash is verified against when the email has no account, so an
	// unknown email costs the same Argon2 work as a wrong password.
	DummyHash string

	Users Users

	// IssueTempToken and IssueSignInToken mint tokens for a normalized email
	// without rate limiting.
	IssueTempToken   func(context.Context, string) (string, error)
	IssueSignInToken func(context.Context, string) (string, error)
	ResetRate        func(ctx context.Context, p limiters.Purpose, identity string) error

	Events AccountEvents
}

func normalizeAccountDeps(deps *AccountDeps) {
	normalizeCommon(&deps.Common)
	if deps.RoleAllowed == nil {
		deps.RoleAllowed = func(string) bool { return false }
	}
	if deps.ResetRate == nil {
		deps.ResetRate = func(context.Context, limiters.Purpose, string) error { return nil }
	}
	if deps.Users.UpdatePasswordHash == nil {
		deps.Users.UpdatePasswordHash = func(context.Context, string, string) error { return nil }
	}
}

func (d AccountDeps) passwordInBounds(pw string) bool {
	return len(pw) >= d.MinPasswordBytes && len(pw) <= d.MaxPasswordBytes
}

// RunSignUp creates a pending account and returns a temp token for it.
func RunSignUp(ctx context.Context, req SignUpRequest, deps AccountDeps) (string, error) {
	normalizeAccountDeps(&deps)
	if !deps.SignUpEnabled {
		deps.EmitAudit(ctx, deps.Events.SignUpFailure, false, "", "", "", deps.Errors.SignUpDisabled, func() map[string]string {
			return map[string]string{
				"reason": "feature_disabled",
			}
		})
		return "", deps.Errors.SignUpDisabled
	}
	if deps.NormalizeEmail == nil || deps.HashPassword == nil || !deps.Users.ready() || deps.IssueTempToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	normalized, ok := deps.NormalizeEmail(req.Email)
	if !ok {
		return "", deps.Errors.InvalidEmail
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > deps.MaxNameLength {
		return "", deps.Errors.InvalidName
	}
	if !deps.passwordInBounds(req.Password) {
		return "", deps.Errors.InvalidPassword
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = deps.DefaultRole
	}
	if !deps.RoleAllowed(role) {
		return "", deps.Errors.AccountRoleInvalid
	}
	emailHash := deps.KeyHash(normalized)

	if err := deps.CheckRate(ctx, limiters.PurposeSignUp, normalized, deps.ClientIPFromContext(ctx)); err != nil {
		return "", err
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return "", deps.Internal(ctx, "signup.hash", err)
	}

	user, err := deps.Users.Create(ctx, CreateUserInput{
		Email:        normalized,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		Status:       deps.Users.PendingStatus,
	})
	if err != nil {
		if errors.Is(err, deps.Errors.AccountExists) {
			deps.MetricInc(metrics.MetricSignUpDuplicate)
			deps.EmitAudit(ctx, deps.Events.SignUpDuplicate, false, "", emailHash, "", err, nil)
			return "", deps.Errors.AccountExists
		}
		return "", deps.Internal(ctx, "signup.create_user", err)
	}

	deps.MetricInc(metrics.MetricSignUpSuccess)
	deps.EmitAudit(ctx, deps.Events.SignUpSuccess, true, user.ID, emailHash, "", nil, func() map[string]string {
		return map[string]string{
			"role": role,
		}
	})

	return deps.IssueTempToken(ctx, normalized)
}

// RunLogin checks the password for email and returns a temp token. It does
// not create a session: the caller proves mailbox control with an OTP next.
func RunLogin(ctx context.Context, email, password string, deps AccountDeps) (string, error) {
	normalizeAccountDeps(&deps)
	if deps.NormalizeEmail == nil || deps.VerifyPassword == nil || !deps.Users.ready() || deps.IssueTempToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	normalized, ok := deps.NormalizeEmail(email)
	if !ok {
		return "", deps.Errors.InvalidEmail
	}
	if password == "" || len(password) > deps.MaxPasswordBytes {
		return "", deps.Errors.InvalidPassword
	}
	emailHash := deps.KeyHash(normalized)

	if err := deps.CheckRate(ctx, limiters.PurposeLogin, normalized, deps.ClientIPFromContext(ctx)); err != nil {
		return "", err
	}

	fail := func(userID, reason string, err error) (string, error) {
		deps.MetricInc(metrics.MetricLoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, emailHash, "", err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return "", err
	}

	user, err := deps.Users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			if deps.DummyHash != "" {
				_, _ = deps.VerifyPassword(password, deps.DummyHash)
			}
			return fail("", "user_not_found", deps.Errors.InvalidCredentials)
		}
		return "", deps.Internal(ctx, "login.get_user", err)
	}

	ok, err = deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return fail(user.ID, "password_mismatch", deps.Errors.InvalidCredentials)
	}
	if user.Status == deps.Users.DisabledStatus {
		return fail(user.ID, "account_disabled", deps.Errors.AccountDisabled)
	}

	if deps.UpgradeOnLogin && deps.PasswordNeedsUpgrade != nil {
		if needs, err := deps.PasswordNeedsUpgrade(user.PasswordHash); err == nil && needs {
			// Best-effort: a failed rehash must not fail the login.
			upgraded, err := deps.HashPassword(password)
			if err == nil {
				err = deps.Users.UpdatePasswordHash(ctx, user.ID, upgraded)
			}
			if err != nil {
				deps.EmitAudit(ctx, deps.Events.PasswordRehashFail, false, user.ID, emailHash, "", err, nil)
			}
		}
	}

	_ = deps.ResetRate(ctx, limiters.PurposeLogin, normalized)
	deps.MetricInc(metrics.MetricLoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, emailHash, "", nil, nil)

	return deps.IssueTempToken(ctx, normalized)
}

// RunCompleteVerification runs after a verified OTP. A pending account is
// activated and receives a sign-in token. Without an account it returns "".
func RunCompleteVerification(ctx context.Context, normalized string, deps AccountDeps) (string, error) {
	normalizeAccountDeps(&deps)
	if !deps.Users.ready() || deps.IssueSignInToken == nil {
		return "", deps.Errors.EngineNotReady
	}
	emailHash := deps.KeyHash(normalized)

	user, err := deps.Users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, deps.Errors.UserNotFound) {
			deps.EmitAudit(ctx, deps.Events.VerifiedNoAccount, true, "", emailHash, "", nil, nil)
			return "", nil
		}
		return "", deps.Internal(ctx, "verify_otp.get_user", err)
	}

	switch user.Status {
	case deps.Users.DisabledStatus:
		return "", deps.Errors.AccountDisabled
	case deps.Users.PendingStatus:
		if err := deps.Users.UpdateStatus(ctx, user.ID, deps.Users.ActiveStatus); err != nil {
			return "", deps.Internal(ctx, "verify_otp.activate", err)
		}
		deps.EmitAudit(ctx, deps.Events.AccountActivated, true, user.ID, emailHash, "", nil, nil)
	}

	return deps.IssueSignInToken(ctx, normalized)
}
