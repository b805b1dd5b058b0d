package otpbroker

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpbroker/internal/limiters"
)

const (
	auditEventOTPSent               = "otp_sent"
	auditEventOTPSendFailure        = "otp_send_failure"
	auditEventOTPVerified           = "otp_verified"
	auditEventOTPMismatch           = "otp_mismatch"
	auditEventOTPAttemptsExceeded   = "otp_attempts_exceeded"
	auditEventOTPNotFound           = "otp_not_found"
	auditEventTempTokenIssued       = "temp_token_issued"
	auditEventTempTokenConsumed     = "temp_token_consumed"
	auditEventSignInTokenIssued     = "signin_token_issued"
	auditEventSignInTokenConsumed   = "signin_token_consumed"
	auditEventTokenLookupFailure    = "token_lookup_failure"
	auditEventSignUpSuccess         = "signup_success"
	auditEventSignUpFailure         = "signup_failure"
	auditEventSignUpDuplicate       = "signup_duplicate"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventAccountActivated      = "account_activated"
	auditEventVerifiedWithoutUser   = "otp_verified_without_account"
	auditEventPasswordRehashFailure = "password_rehash_failure"
	auditEventSessionCreated        = "session_created"
	auditEventExchangeFailure       = "signin_exchange_failure"
	auditEventLogout                = "logout"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInvalidOTP         AuditErrorCode = "invalid_otp"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrSignUpDisabled     AuditErrorCode = "signup_disabled"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	emailHash string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		EmailHash: emailHash,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, purpose limiters.Purpose, identityHash string) {
	e.metricInc(MetricRateLimitHit)
	if id, ok := rateLimitedMetrics[purpose]; ok {
		e.metricInc(id)
	}
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", identityHash, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidOTP):
		return auditErrInvalidOTP
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrAccountRoleInvalid):
		return auditErrInvalidInput
	case errors.Is(err, ErrOTPNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSessionNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrSignUpDisabled):
		return auditErrSignUpDisabled
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	default:
		return auditErrInternal
	}
}
