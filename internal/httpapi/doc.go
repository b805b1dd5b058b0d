// Package httpapi serves the broker over HTTP with echo.
//
// Routes live under /v1. Bodies are JSON and validated with struct tags.
// Engine errors are mapped to status codes through otpbroker.CodeOf, and rate
// limit rejections carry a Retry-After header.
package httpapi
