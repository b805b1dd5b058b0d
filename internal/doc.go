// Package internal contains helper utilities that are intentionally private to
// otpbroker: secure random generation for codes, tokens and session ids, and
// email normalization.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - httpapi: echo transport for the Engine
//   - limiters: per-purpose fixed-window policies
//   - metrics: lock-free counters and latency histograms
//   - rate: core Redis-backed fixed-window primitive
//   - security: configuration posture report
//   - stores: OTP, token and session records in Redis
//
// # What this package must NOT do
//
//   - Export types that appear in the public otpbroker API.
//   - Be imported by any package outside the otpbroker module.
package internal
