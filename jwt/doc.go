// Package jwt signs and verifies the short-lived access tokens returned by a
// sign-in token exchange. Each token names its session (sid) so the broker can
// revoke it by deleting the session record.
package jwt
