// Package limiters provides the per-purpose rate-limit policy built on top of
// the internal/rate fixed-window primitive.
//
// # Purposes
//
// Every rate-limited broker operation names a [Purpose]. The purpose string is
// also the key prefix, so counters live at `{purpose}:{identity}` where the
// identity is a normalized email or an opaque token.
//
// An optional per-IP window (`{purpose}-ip:{ip}`) can be layered on top.
//
// All limiters are nil-safe: calling Check on a nil receiver returns a zero
// decision and nil.
//
// # What this package must NOT do
//
//   - Import otpbroker or any sibling internal package except internal/rate.
//   - Normalize identities; callers pass keys derived from normalized input.
package limiters
