// Package mailer delivers OTP emails.
//
// [Mailer] is the interface the Engine depends on. [SendGrid] talks to the
// SendGrid v3 API, [Console] writes messages to a zap logger for local
// development, and [Recorder] keeps messages in memory for tests.
//
// Send is synchronous: the Engine needs the delivery result to decide whether
// the stored code stays valid.
package mailer
