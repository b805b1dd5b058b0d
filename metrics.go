package otpbroker

import (
	"github.com/MrEthical07/otpbroker/internal/limiters"
	internalmetrics "github.com/MrEthical07/otpbroker/internal/metrics"
)

// MetricID identifies a counter or latency histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricOTPSent              = internalmetrics.MetricOTPSent
	MetricOTPSendFailure       = internalmetrics.MetricOTPSendFailure
	MetricOTPVerified          = internalmetrics.MetricOTPVerified
	MetricOTPMismatch          = internalmetrics.MetricOTPMismatch
	MetricOTPAttemptsExceeded  = internalmetrics.MetricOTPAttemptsExceeded
	MetricOTPNotFound          = internalmetrics.MetricOTPNotFound
	MetricTempTokenIssued      = internalmetrics.MetricTempTokenIssued
	MetricTempTokenConsumed    = internalmetrics.MetricTempTokenConsumed
	MetricSignInTokenIssued    = internalmetrics.MetricSignInTokenIssued
	MetricSignInTokenExchanged = internalmetrics.MetricSignInTokenExchanged
	MetricTokenNotFound        = internalmetrics.MetricTokenNotFound
	MetricRateLimitHit         = internalmetrics.MetricRateLimitHit
	MetricSignUpSuccess        = internalmetrics.MetricSignUpSuccess
	MetricSignUpDuplicate      = internalmetrics.MetricSignUpDuplicate
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricSessionCreated       = internalmetrics.MetricSessionCreated
	MetricLogout               = internalmetrics.MetricLogout
	MetricValidateSuccess      = internalmetrics.MetricValidateSuccess
	MetricValidateFailure      = internalmetrics.MetricValidateFailure
	MetricInternalError        = internalmetrics.MetricInternalError

	MetricRateLimitedSendOTP        = internalmetrics.MetricRateLimitedSendOTP
	MetricRateLimitedVerifyOTP      = internalmetrics.MetricRateLimitedVerifyOTP
	MetricRateLimitedTempToken      = internalmetrics.MetricRateLimitedTempToken
	MetricRateLimitedEmailFromToken = internalmetrics.MetricRateLimitedEmailFromToken
	MetricRateLimitedSignInExchange = internalmetrics.MetricRateLimitedSignInExchange
	MetricRateLimitedSignUp         = internalmetrics.MetricRateLimitedSignUp
	MetricRateLimitedLogin          = internalmetrics.MetricRateLimitedLogin

	MetricSendOTPLatency  = internalmetrics.MetricSendOTPLatency
	MetricValidateLatency = internalmetrics.MetricValidateLatency
)

var rateLimitedMetrics = map[limiters.Purpose]MetricID{
	limiters.PurposeSendOTP:        MetricRateLimitedSendOTP,
	limiters.PurposeVerifyOTP:      MetricRateLimitedVerifyOTP,
	limiters.PurposeTempToken:      MetricRateLimitedTempToken,
	limiters.PurposeEmailFromToken: MetricRateLimitedEmailFromToken,
	limiters.PurposeSignInExchange: MetricRateLimitedSignInExchange,
	limiters.PurposeSignUp:         MetricRateLimitedSignUp,
	limiters.PurposeLogin:          MetricRateLimitedLogin,
}

// RateLimitedMetric returns the rejection counter for a rate-limit purpose
// such as "send-otp" or "signin-exchange".
func RateLimitedMetric(purpose string) (MetricID, bool) {
	id, ok := rateLimitedMetrics[limiters.Purpose(purpose)]
	return id, ok
}

// Metrics holds lock-free counters and latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy returned by [Engine.MetricsSnapshot].
type MetricsSnapshot = internalmetrics.Snapshot

func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
