// Package rate provides the atomic fixed-window counter that every
// rate-limited broker operation is built on.
//
// # Window semantics
//
// A single Lua script performs read-compare-increment-or-set:
//   - missing key: SET 1 PX window (first request of a window)
//   - count >= max: reject without incrementing, report remaining PTTL
//   - otherwise: INCR
//
// Keys are supplied by the caller verbatim (`{purpose}:{identity}`).
//
// # What this package must NOT do
//
//   - Implement purpose policies (those live in internal/limiters).
//   - Normalize identities; callers pass already-normalized values.
package rate
