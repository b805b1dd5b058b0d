// Package middleware exposes net/http guards built on [otpbroker.Engine.Validate].
//
// # Guards
//
//   - [Guard] requires a valid bearer access token whose session still exists.
//   - [RequireRole] additionally requires one of the listed roles.
//
// Each guard reads the Authorization header, calls Engine.Validate, and injects
// the [otpbroker.AuthResult] into the request context. Handlers read it back with
// [AuthResultFromContext].
//
// This package does not parse JWTs or touch Redis. All decisions are delegated
// to the Engine.
package middleware
