package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/metrics"
	"github.com/MrEthical07/otpbroker/internal/stores"
)

type OTPEvents struct {
	OTPSent             string
	OTPSendFailure      string
	OTPVerified         string
	OTPMismatch         string
	OTPAttemptsExceeded string
	OTPNotFound         string
}

// OTPDeps captures send/verify dependencies.
type OTPDeps struct {
	Common

	Digits      int
	TTL         time.Duration
	MaxAttempts int

	NewOTP        func(int) (string, error)
	IsNumericCode func(string, int) bool
	HashOTP       func(emailHash, code string) [32]byte

	SaveOTP    func(ctx context.Context, emailHash string, codeHash [32]byte, ttl time.Duration) error
	ConsumeOTP func(ctx context.Context, emailHash string, provided [32]byte, maxAttempts int) (stores.OTPCheck, error)
	DeleteOTP  func(ctx context.Context, emailHash string) error

	// DeliverCode sends code to the normalized email.
	DeliverCode func(ctx context.Context, email, code string) error
	// CompleteVerification runs after a successful match and returns the
	// sign-in token, or "" when no account exists for email.
	CompleteVerification func(ctx context.Context, email string) (string, error)

	Events OTPEvents
}

// VerifyOutcome is the flow-local verify result. A mismatch is not an error.
type VerifyOutcome struct {
	Success           bool
	Exhausted         bool
	AttemptsRemaining int
	SignInToken       string
}

func normalizeOTPDeps(deps *OTPDeps) {
	normalizeCommon(&deps.Common)
	if deps.DeleteOTP == nil {
		deps.DeleteOTP = func(context.Context, string) error { return nil }
	}
	if deps.CompleteVerification == nil {
		deps.CompleteVerification = func(context.Context, string) (string, error) { return "", nil }
	}
}

func (d OTPDeps) ready() bool {
	return d.NormalizeEmail != nil && d.NewOTP != nil && d.IsNumericCode != nil &&
		d.HashOTP != nil && d.SaveOTP != nil && d.ConsumeOTP != nil && d.DeliverCode != nil
}

// RunSendOTP generates a fresh code for email, stores its hash (replacing any
// earlier code) and delivers it. When delivery fails the stored code is
// removed so no undeliverable code stays valid.
func RunSendOTP(ctx context.Context, email string, deps OTPDeps) error {
	normalizeOTPDeps(&deps)
	if !deps.ready() {
		return deps.Errors.EngineNotReady
	}

	normalized, ok := deps.NormalizeEmail(email)
	if !ok {
		return deps.Errors.InvalidEmail
	}
	emailHash := deps.KeyHash(normalized)

	if err := deps.CheckRate(ctx, limiters.PurposeSendOTP, normalized, deps.ClientIPFromContext(ctx)); err != nil {
		return err
	}

	code, err := deps.NewOTP(deps.Digits)
	if err != nil {
		return deps.Internal(ctx, "send_otp.generate", err)
	}
	if err := deps.SaveOTP(ctx, emailHash, deps.HashOTP(emailHash, code), deps.TTL); err != nil {
		return deps.Internal(ctx, "send_otp.save", err)
	}

	if err := deps.DeliverCode(ctx, normalized, code); err != nil {
		_ = deps.DeleteOTP(ctx, emailHash)
		deps.MetricInc(metrics.MetricOTPSendFailure)
		deps.EmitAudit(ctx, deps.Events.OTPSendFailure, false, "", emailHash, "", err, nil)
		return deps.Internal(ctx, "send_otp.deliver", err)
	}

	deps.MetricInc(metrics.MetricOTPSent)
	deps.EmitAudit(ctx, deps.Events.OTPSent, true, "", emailHash, "", nil, nil)
	return nil
}

// RunVerifyOTP checks code against the stored record for email. A match
// consumes the record. Each mismatch counts against MaxAttempts; the mismatch
// that reaches the cap deletes the record.
func RunVerifyOTP(ctx context.Context, email, code string, deps OTPDeps) (VerifyOutcome, error) {
	normalizeOTPDeps(&deps)
	if !deps.ready() {
		return VerifyOutcome{}, deps.Errors.EngineNotReady
	}

	normalized, ok := deps.NormalizeEmail(email)
	if !ok {
		return VerifyOutcome{}, deps.Errors.InvalidEmail
	}
	code = strings.TrimSpace(code)
	if !deps.IsNumericCode(code, deps.Digits) {
		return VerifyOutcome{}, deps.Errors.InvalidOTP
	}
	emailHash := deps.KeyHash(normalized)

	if err := deps.CheckRate(ctx, limiters.PurposeVerifyOTP, normalized, deps.ClientIPFromContext(ctx)); err != nil {
		return VerifyOutcome{}, err
	}

	check, err := deps.ConsumeOTP(ctx, emailHash, deps.HashOTP(emailHash, code), deps.MaxAttempts)
	if err != nil {
		if errors.Is(err, stores.ErrOTPNotFound) {
			deps.MetricInc(metrics.MetricOTPNotFound)
			deps.EmitAudit(ctx, deps.Events.OTPNotFound, false, "", emailHash, "", deps.Errors.OTPNotFound, nil)
			return VerifyOutcome{}, deps.Errors.OTPNotFound
		}
		return VerifyOutcome{}, deps.Internal(ctx, "verify_otp.consume", err)
	}

	switch check.Outcome {
	case stores.OTPMismatch:
		remaining := deps.MaxAttempts - check.Attempts
		if remaining < 0 {
			remaining = 0
		}
		deps.MetricInc(metrics.MetricOTPMismatch)
		deps.EmitAudit(ctx, deps.Events.OTPMismatch, false, "", emailHash, "", deps.Errors.InvalidOTP, func() map[string]string {
			return map[string]string{
				"attempts": strconv.Itoa(check.Attempts),
			}
		})
		return VerifyOutcome{AttemptsRemaining: remaining}, nil
	case stores.OTPAttemptsExhausted:
		deps.MetricInc(metrics.MetricOTPAttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.OTPAttemptsExceeded, false, "", emailHash, "", deps.Errors.InvalidOTP, func() map[string]string {
			return map[string]string{
				"attempts": strconv.Itoa(check.Attempts),
			}
		})
		return VerifyOutcome{Exhausted: true}, nil
	}

	deps.MetricInc(metrics.MetricOTPVerified)
	deps.EmitAudit(ctx, deps.Events.OTPVerified, true, "", emailHash, "", nil, nil)

	token, err := deps.CompleteVerification(ctx, normalized)
	if err != nil {
		return VerifyOutcome{}, err
	}
	return VerifyOutcome{Success: true, SignInToken: token}, nil
}
