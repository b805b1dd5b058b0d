package otpbroker

import (
	"context"
	"time"
)

const (
	msgOTPSent      = "Verification code sent."
	msgOTPVerified  = "Email verified."
	msgOTPIncorrect = "Incorrect verification code."
	msgOTPExhausted = "Too many incorrect attempts. Request a new code."
)

// SendOTP generates a code for email, stores its hash for OTP.TTL and mails
// it. A new code replaces any earlier one for the same email.
//
// Errors: ErrInvalidEmail, *RateLimitError, or an internal error (including a
// failed delivery, in which case the stored code is discarded).
func (e *Engine) SendOTP(ctx context.Context, email string) (SendOTPResult, error) {
	if !e.ready() {
		return SendOTPResult{}, ErrEngineNotReady
	}

	start := time.Now()
	err := e.flows.SendOTP(ctx, email)
	e.observe(MetricSendOTPLatency, start)
	if err != nil {
		return SendOTPResult{}, err
	}
	return SendOTPResult{Success: true, Message: msgOTPSent}, nil
}

// VerifyOTP checks code for email. A wrong code is reported as Success=false
// with a nil error; only a missing or expired code is ErrOTPNotFound.
//
// On success the code is consumed. If an account exists for email it is
// activated when pending, and a sign-in token is returned.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string) (VerifyOTPResult, error) {
	if !e.ready() {
		return VerifyOTPResult{}, ErrEngineNotReady
	}

	out, err := e.flows.VerifyOTP(ctx, email, code)
	if err != nil {
		return VerifyOTPResult{}, err
	}

	switch {
	case out.Success:
		return VerifyOTPResult{Success: true, Message: msgOTPVerified, SignInToken: out.SignInToken}, nil
	case out.Exhausted:
		return VerifyOTPResult{Message: msgOTPExhausted}, nil
	default:
		return VerifyOTPResult{Message: msgOTPIncorrect, AttemptsRemaining: out.AttemptsRemaining}, nil
	}
}
