package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when the window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any store failure while counting.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidWindow is returned for non-positive limits or windows.
	ErrInvalidWindow = errors.New("invalid rate window")
)
