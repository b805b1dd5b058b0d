package otpbroker

import (
	"context"

	"github.com/MrEthical07/otpbroker/internal/flows"
)

// SignUp creates a pending account and returns a temp token for it. The
// account becomes active once the owner verifies an OTP.
//
// Errors: ErrSignUpDisabled, ErrInvalidEmail, ErrInvalidName,
// ErrInvalidPassword, ErrAccountRoleInvalid, *RateLimitError,
// ErrAccountExists, or an internal error.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.SignUp(ctx, flows.SignUpRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     string(req.Role),
	})
}

// Login checks email and password and returns a temp token. No session is
// created: the caller continues with SendOTP and VerifyOTP. Unknown emails
// and wrong passwords both return ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, password string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.Login(ctx, email, password)
}

// Profile loads the public view of a user.
func (e *Engine) Profile(ctx context.Context, userID string) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}
	u, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if isUserNotFound(err) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, e.internalError(ctx, "profile.get_user", err)
	}
	return profileOf(u), nil
}
