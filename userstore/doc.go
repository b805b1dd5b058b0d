// Package userstore provides otpbroker.UserProvider implementations: an
// in-memory store for tests and development, and a PostgreSQL store on a
// caller-owned pgx pool.
package userstore
