package internaldefs

import (
	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/internal/limiters"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   otpbroker.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   otpbroker.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: otpbroker.MetricOTPSent, Name: "otpbroker_otp_sent_total", Help: "Verification codes delivered."},
	{ID: otpbroker.MetricOTPSendFailure, Name: "otpbroker_otp_send_failure_total", Help: "Verification codes that could not be delivered."},
	{ID: otpbroker.MetricOTPVerified, Name: "otpbroker_otp_verified_total", Help: "Successful code verifications."},
	{ID: otpbroker.MetricOTPMismatch, Name: "otpbroker_otp_mismatch_total", Help: "Verification attempts with a wrong code."},
	{ID: otpbroker.MetricOTPAttemptsExceeded, Name: "otpbroker_otp_attempts_exceeded_total", Help: "Codes invalidated after too many wrong attempts."},
	{ID: otpbroker.MetricOTPNotFound, Name: "otpbroker_otp_not_found_total", Help: "Verification attempts with no live code."},
	{ID: otpbroker.MetricTempTokenIssued, Name: "otpbroker_temp_token_issued_total", Help: "Temp tokens issued."},
	{ID: otpbroker.MetricTempTokenConsumed, Name: "otpbroker_temp_token_consumed_total", Help: "Temp tokens consumed."},
	{ID: otpbroker.MetricSignInTokenIssued, Name: "otpbroker_signin_token_issued_total", Help: "Sign-in tokens issued."},
	{ID: otpbroker.MetricSignInTokenExchanged, Name: "otpbroker_signin_token_exchanged_total", Help: "Sign-in tokens exchanged for a session."},
	{ID: otpbroker.MetricTokenNotFound, Name: "otpbroker_token_not_found_total", Help: "Token lookups for unknown, expired or used tokens."},
	{ID: otpbroker.MetricRateLimitHit, Name: "otpbroker_rate_limit_hit_total", Help: "Requests rejected by a rate-limit window."},
	{ID: otpbroker.MetricSignUpSuccess, Name: "otpbroker_signup_success_total", Help: "Accounts created."},
	{ID: otpbroker.MetricSignUpDuplicate, Name: "otpbroker_signup_duplicate_total", Help: "Sign-ups rejected as duplicate."},
	{ID: otpbroker.MetricLoginSuccess, Name: "otpbroker_login_success_total", Help: "Successful password checks."},
	{ID: otpbroker.MetricLoginFailure, Name: "otpbroker_login_failure_total", Help: "Failed password checks."},
	{ID: otpbroker.MetricSessionCreated, Name: "otpbroker_session_created_total", Help: "Sessions created."},
	{ID: otpbroker.MetricLogout, Name: "otpbroker_logout_total", Help: "Sessions deleted by logout."},
	{ID: otpbroker.MetricValidateSuccess, Name: "otpbroker_validate_success_total", Help: "Access tokens accepted."},
	{ID: otpbroker.MetricValidateFailure, Name: "otpbroker_validate_failure_total", Help: "Access tokens rejected."},
	{ID: otpbroker.MetricInternalError, Name: "otpbroker_internal_error_total", Help: "Unexpected failures hidden behind a generic error."},
}

// RateLimitDef binds one purpose label of the rate-limited counter family to
// its metric slot.
type RateLimitDef struct {
	ID      otpbroker.MetricID
	Purpose string
}

const (
	RateLimitedName  = "otpbroker_rate_limited_total"
	RateLimitedHelp  = "Requests rejected by a rate-limit window, by purpose."
	RateLimitedLabel = "purpose"
)

// RateLimitDefs follows limiters.Purposes order.
var RateLimitDefs = rateLimitDefs()

func rateLimitDefs() []RateLimitDef {
	out := make([]RateLimitDef, 0, len(limiters.Purposes))
	for _, p := range limiters.Purposes {
		id, ok := otpbroker.RateLimitedMetric(string(p))
		if !ok {
			panic("internaldefs: no rate-limited metric for purpose " + string(p))
		}
		out = append(out, RateLimitDef{ID: id, Purpose: string(p)})
	}
	return out
}

var HistogramDefs = []HistogramDef{
	{ID: otpbroker.MetricSendOTPLatency, Name: "otpbroker_send_otp_latency_seconds", Help: "SendOTP latency."},
	{ID: otpbroker.MetricValidateLatency, Name: "otpbroker_validate_latency_seconds", Help: "Validate latency."},
}

// UpperBounds are the finite bucket bounds in seconds. The last bucket of a
// snapshot is the +Inf overflow.
var UpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels are the "le" label values of each bucket, overflow included.
var BucketLabels = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

const AuditDroppedName = "otpbroker_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
