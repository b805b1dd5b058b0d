// Package otpbroker verifies email ownership with one-time codes and brokers
// the short-lived tokens that connect sign-up, login and verification to an
// authenticated session.
//
// An [Engine] is assembled with [Builder] and is safe for concurrent use. All
// state lives in Redis: hashed codes, single-use temp and sign-in tokens,
// fixed-window rate counters and session records. Accounts live behind the
// host's [UserProvider].
//
// # Flows
//
//	SignUp / Login        -> temp token
//	SendOTP / VerifyOTP   -> sign-in token (when an account exists)
//	ExchangeSignInToken   -> access token bound to a session
//	Validate / Logout     -> per-request check, session revocation
//
// Every error returned by the Engine classifies to exactly one [ErrorCode]
// through [CodeOf]. Unexpected failures are logged, reported and returned as
// [ErrInternal] without their cause.
package otpbroker
