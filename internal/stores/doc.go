// Package stores provides Redis-backed, short-lived record stores for the
// broker: one-time passcodes, temp and sign-in tokens, and sessions.
//
// # Design
//
// OTP records hold a SHA-256 digest of the code bound to the email key hash,
// never the code itself, plus a wrong-guess counter. Verification runs in one
// Lua script so compare, attempt accounting and single-use deletion are
// atomic. Token records map an opaque token to a normalized email and are
// consumed with GETDEL. Sessions are JSON documents with a TTL.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient records.
// It does NOT generate codes or tokens, enforce rate limits, or make
// authentication decisions. Those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import otpbroker or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
