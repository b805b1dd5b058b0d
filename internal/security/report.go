package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SigningAlgorithm string
	OTPDigits        int
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	TempTokenTTL     time.Duration
	SignInTokenTTL   time.Duration
	SessionTTL       time.Duration
	AccessTTL        time.Duration
	Argon2           PasswordReport
	IPThrottle       bool
	SignUpEnabled    bool
	AuditEnabled     bool
	MetricsEnabled   bool
	Warnings         []string
}

type ReportInput struct {
	SigningAlgorithm string
	OTPDigits        int
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	TempTokenTTL     time.Duration
	SignInTokenTTL   time.Duration
	SessionTTL       time.Duration
	AccessTTL        time.Duration
	Password         PasswordReport
	IPThrottle       bool
	SignUpEnabled    bool
	AuditEnabled     bool
	MetricsEnabled   bool
}

const (
	WarnOTPTTLLong       = "otp ttl exceeds 10m"
	WarnOTPAttemptsLoose = "otp max attempts above 5"
	WarnTokenTTLLong     = "single-use token ttl exceeds 10m"
	WarnAccessTTLLong    = "access ttl exceeds 1h"
	WarnArgonMemoryLow   = "argon2 memory below 64MB"
	WarnIPThrottleOff    = "per-ip throttling disabled"
	WarnAuditOff         = "audit disabled"
	WarnSymmetricSigning = "hs256 signing shares the verification secret"
)

// BuildReport derives the posture report and its warnings from input.
func BuildReport(input ReportInput) Report {
	var warnings []string
	if input.OTPTTL > 10*time.Minute {
		warnings = append(warnings, WarnOTPTTLLong)
	}
	if input.OTPMaxAttempts > 5 {
		warnings = append(warnings, WarnOTPAttemptsLoose)
	}
	if input.TempTokenTTL > 10*time.Minute || input.SignInTokenTTL > 10*time.Minute {
		warnings = append(warnings, WarnTokenTTLLong)
	}
	if input.AccessTTL > time.Hour {
		warnings = append(warnings, WarnAccessTTLLong)
	}
	if input.Password.Memory < 64*1024 {
		warnings = append(warnings, WarnArgonMemoryLow)
	}
	if !input.IPThrottle {
		warnings = append(warnings, WarnIPThrottleOff)
	}
	if !input.AuditEnabled {
		warnings = append(warnings, WarnAuditOff)
	}
	if input.SigningAlgorithm == "HS256" {
		warnings = append(warnings, WarnSymmetricSigning)
	}

	return Report{
		SigningAlgorithm: input.SigningAlgorithm,
		OTPDigits:        input.OTPDigits,
		OTPTTL:           input.OTPTTL,
		OTPMaxAttempts:   input.OTPMaxAttempts,
		TempTokenTTL:     input.TempTokenTTL,
		SignInTokenTTL:   input.SignInTokenTTL,
		SessionTTL:       input.SessionTTL,
		AccessTTL:        input.AccessTTL,
		Argon2:           input.Password,
		IPThrottle:       input.IPThrottle,
		SignUpEnabled:    input.SignUpEnabled,
		AuditEnabled:     input.AuditEnabled,
		MetricsEnabled:   input.MetricsEnabled,
		Warnings:         warnings,
	}
}
