package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/metrics"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	OTP     OTPDeps
	Token   TokenDeps
	Account AccountDeps
	Session SessionDeps
}

// Errors carries host-level sentinel errors so flows can return them without
// importing the root package.
type Errors struct {
	EngineNotReady     error
	InvalidEmail       error
	InvalidOTP         error
	InvalidToken       error
	InvalidPassword    error
	InvalidName        error
	AccountRoleInvalid error
	OTPNotFound        error
	TokenNotFound      error
	UserNotFound       error
	InvalidCredentials error
	Unauthorized       error
	SessionNotFound    error
	AccountDisabled    error
	SignUpDisabled     error
	AccountExists      error
}

// Common is shared by every flow.
//
// CheckRate returns a host error: a rate-limit error on rejection or an
// internal error when the counter store is unavailable. Internal wraps any
// unexpected failure into the host's opaque internal error.
type Common struct {
	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	NormalizeEmail func(string) (string, bool)
	KeyHash        func(string) string
	CheckRate      func(ctx context.Context, p limiters.Purpose, identity, ip string) error
	Internal       func(ctx context.Context, op string, err error) error

	MetricInc func(metrics.MetricID)
	EmitAudit func(ctx context.Context, eventType string, success bool, userID, emailHash, sessionID string, err error, metadata func() map[string]string)

	Errors Errors
}

func normalizeCommon(c *Common) {
	if c.ClientIPFromContext == nil {
		c.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.KeyHash == nil {
		c.KeyHash = func(s string) string { return s }
	}
	if c.CheckRate == nil {
		c.CheckRate = func(context.Context, limiters.Purpose, string, string) error { return nil }
	}
	if c.Internal == nil {
		c.Internal = func(_ context.Context, _ string, err error) error { return err }
	}
	if c.MetricInc == nil {
		c.MetricInc = func(metrics.MetricID) {}
	}
	if c.EmitAudit == nil {
		c.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
}

// UserRecord is the flow-local user model.
type UserRecord struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       uint8
}

// CreateUserInput is the flow-local sign-up payload.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       uint8
}

// Users adapts the host user provider. GetByEmail must return
// Errors.UserNotFound for unknown emails and Create must return
// Errors.AccountExists on duplicates.
type Users struct {
	GetByEmail         func(context.Context, string) (UserRecord, error)
	Create             func(context.Context, CreateUserInput) (UserRecord, error)
	UpdateStatus       func(context.Context, string, uint8) error
	UpdatePasswordHash func(context.Context, string, string) error

	ActiveStatus   uint8
	PendingStatus  uint8
	DisabledStatus uint8
}

func (u Users) ready() bool {
	return u.GetByEmail != nil && u.Create != nil && u.UpdateStatus != nil
}
