package otpbroker

import (
	"context"
	"errors"
	"time"
)

// ExchangeSignInToken consumes a sign-in token and opens a session. The
// returned access token is bound to the session id.
func (e *Engine) ExchangeSignInToken(ctx context.Context, token string) (*SessionTokens, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	issue, err := e.flows.ExchangeSignInToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &SessionTokens{
		AccessToken: issue.AccessToken,
		SessionID:   issue.SessionID,
		ExpiresAt:   issue.ExpiresAt,
		User:        profileOf(fromFlowUser(issue.User)),
	}, nil
}

// Validate verifies an access token and requires its session record to still
// exist, so Logout takes effect before the token expires.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	v, err := e.flows.Validate(ctx, accessToken)
	e.observe(MetricValidateLatency, start)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		UserID:    v.UserID,
		Email:     v.Email,
		Role:      Role(v.Role),
		SessionID: v.SessionID,
		ExpiresAt: v.ExpiresAt,
	}, nil
}

// Logout deletes a session. Unknown sessions are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.Logout(ctx, sessionID)
}

func isUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}
