// Package security derives the posture report exposed by
// Engine.SecurityReport from effective configuration.
//
// # What this package must NOT do
//
//   - Perform I/O or read configuration on its own.
//   - Import otpbroker.
package security
