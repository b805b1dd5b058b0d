package otpbroker

import "context"

// GenerateTempToken issues a single-use temp token bound to email.
func (e *Engine) GenerateTempToken(ctx context.Context, email string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.GenerateTempToken(ctx, email)
}

// GetEmailFromToken returns the email bound to a temp token and consumes the
// token. A second lookup returns ErrTokenNotFound.
func (e *Engine) GetEmailFromToken(ctx context.Context, token string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.GetEmailFromToken(ctx, token)
}

// IssueSignInToken issues a sign-in token for email without rate limiting.
// VerifyOTP calls it internally; hosts may use it after their own checks.
func (e *Engine) IssueSignInToken(ctx context.Context, email string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	normalized, ok := normalizeEmail(email)
	if !ok {
		return "", ErrInvalidEmail
	}
	return e.flows.IssueSignInToken(ctx, normalized)
}
