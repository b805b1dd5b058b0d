package otpbroker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEmail reports a missing or malformed email address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidOTP reports a code that is not the configured number of digits.
	ErrInvalidOTP = errors.New("invalid otp format")
	// ErrInvalidToken reports a missing or malformed opaque token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidPassword reports a password outside the configured length bounds.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidName reports an empty or overlong display name.
	ErrInvalidName = errors.New("invalid name")
	// ErrAccountRoleInvalid reports a role that cannot be requested at sign-up.
	ErrAccountRoleInvalid = errors.New("invalid account role")

	ErrOTPNotFound   = errors.New("otp not found or expired")
	ErrTokenNotFound = errors.New("token not found or expired")
	ErrUserNotFound  = errors.New("user not found")

	// ErrRateLimited is matched by every [*RateLimitError].
	ErrRateLimited = errors.New("too many requests")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionNotFound    = errors.New("session not found")

	ErrAccountDisabled = errors.New("account disabled")
	ErrSignUpDisabled  = errors.New("sign-up disabled")
	ErrForbidden       = errors.New("permission denied")

	ErrAccountExists = errors.New("account already exists")

	// ErrInternal is matched by every [*InternalError].
	ErrInternal       = errors.New("internal server error")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode classifies an error for transport layers.
type ErrorCode string

const (
	CodeBadUserInput        ErrorCode = "BAD_USER_INPUT"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeTooManyRequests     ErrorCode = "TOO_MANY_REQUESTS"
	CodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
)

// RateLimitError is returned when an operation's window budget is spent.
type RateLimitError struct {
	Purpose    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s requests, retry in %s", e.Purpose, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// InternalError hides an unexpected failure behind a generic message. The
// cause stays reachable through Cause for logging and error reporting, but is
// not part of the error chain.
type InternalError struct {
	Op  string
	err error
}

func newInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, err: err}
}

func (e *InternalError) Error() string {
	return ErrInternal.Error()
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

// Cause returns the underlying failure.
func (e *InternalError) Cause() error {
	return e.err
}

// CodeOf maps any error returned by the Engine to exactly one [ErrorCode].
// Unknown errors classify as CodeInternalServerError.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return CodeInternalServerError
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrAccountRoleInvalid):
		return CodeBadUserInput
	case errors.Is(err, ErrOTPNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeTooManyRequests
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrSessionNotFound):
		return CodeUnauthenticated
	case errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrSignUpDisabled),
		errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrAccountExists):
		return CodeConflict
	default:
		return CodeInternalServerError
	}
}

// PublicMessage returns text safe to show an end user for err.
func PublicMessage(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Error()
	}

	switch CodeOf(err) {
	case "":
		return ""
	case CodeInternalServerError:
		return "Something went wrong. Please try again later."
	default:
		return err.Error()
	}
}
