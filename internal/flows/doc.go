// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunSendOTP, RunVerifyOTP, RunSignUp, RunValidate, etc.)
// accepts a typed dependency struct and returns results without side-effects
// beyond those dependencies. Host sentinel errors, metric and audit hooks are
// injected, so flows can be tested with plain function fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the OTP, token and session stores, the
// JWT manager, the purpose limiter, audit dispatch and metrics. They do NOT
// own any of these resources. Ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import otpbroker (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
