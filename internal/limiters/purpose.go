package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpbroker/internal/rate"
	"github.com/redis/go-redis/v9"
)

// Purpose names a rate-limited operation and doubles as its key prefix.
// Purposes must never equal a token or record prefix: counters and records
// share one keyspace, and a counter keyed by token would land on the token.
type Purpose string

const (
	PurposeSendOTP        Purpose = "send-otp"
	PurposeVerifyOTP      Purpose = "verify-otp"
	PurposeTempToken      Purpose = "temp-token-issue"
	PurposeEmailFromToken Purpose = "email-from-token"
	PurposeSignInExchange Purpose = "signin-exchange"
	PurposeSignUp         Purpose = "signup"
	PurposeLogin          Purpose = "login"
)

// Purposes lists every purpose in a stable order.
var Purposes = []Purpose{
	PurposeSendOTP,
	PurposeVerifyOTP,
	PurposeTempToken,
	PurposeEmailFromToken,
	PurposeSignInExchange,
	PurposeSignUp,
	PurposeLogin,
}

var (
	ErrRateLimited    = errors.New("purpose rate limited")
	ErrUnavailable    = errors.New("purpose limiter unavailable")
	ErrUnknownPurpose = errors.New("unknown rate-limit purpose")
)

// LimitError carries the rejected decision so callers can surface retry hints.
type LimitError struct {
	Purpose  Purpose
	Decision rate.Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRateLimited.Error(), e.Purpose)
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// Config maps purposes to identity windows. IPWindows is optional and only
// consulted when an IP is supplied.
type Config struct {
	Windows   map[Purpose]rate.Window
	IPWindows map[Purpose]rate.Window
}

// PurposeLimiter enforces one fixed window per purpose and identity.
type PurposeLimiter struct {
	limiter *rate.Limiter
	config  Config
}

// NewPurposeLimiter creates a limiter over the given Redis client.
func NewPurposeLimiter(redisClient redis.UniversalClient, cfg Config) *PurposeLimiter {
	return &PurposeLimiter{
		limiter: rate.New(redisClient),
		config:  cfg,
	}
}

// Key returns the counter key for a purpose and identity.
func Key(p Purpose, identity string) string {
	return string(p) + ":" + identity
}

// IPKey returns the per-IP counter key for a purpose.
func IPKey(p Purpose, ip string) string {
	return string(p) + "-ip:" + ip
}

// Check counts one request for identity (and ip, when an IP window exists).
// A rejected request returns a *LimitError wrapping ErrRateLimited.
func (l *PurposeLimiter) Check(ctx context.Context, p Purpose, identity, ip string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{}, nil
	}

	w, ok := l.config.Windows[p]
	if !ok {
		return rate.Decision{}, fmt.Errorf("%w: %s", ErrUnknownPurpose, p)
	}

	if ipw, ok := l.config.IPWindows[p]; ok && ip != "" {
		d, err := l.enforce(ctx, p, IPKey(p, ip), ipw)
		if err != nil {
			return d, err
		}
	}

	return l.enforce(ctx, p, Key(p, identity), w)
}

func (l *PurposeLimiter) enforce(ctx context.Context, p Purpose, key string, w rate.Window) (rate.Decision, error) {
	d, err := l.limiter.Enforce(ctx, key, w)
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return d, &LimitError{Purpose: p, Decision: d}
		}
		return d, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return d, nil
}

// Count returns the current counter for a purpose and identity.
func (l *PurposeLimiter) Count(ctx context.Context, p Purpose, identity string) (int64, error) {
	if l == nil {
		return 0, nil
	}
	n, err := l.limiter.Count(ctx, Key(p, identity))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Reset clears the identity counter for a purpose.
func (l *PurposeLimiter) Reset(ctx context.Context, p Purpose, identity string) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Reset(ctx, Key(p, identity)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Window returns the configured identity window for a purpose.
func (l *PurposeLimiter) Window(p Purpose) (rate.Window, bool) {
	if l == nil {
		return rate.Window{}, false
	}
	w, ok := l.config.Windows[p]
	return w, ok
}

// RetryAfter extracts the retry hint from a rejected Check, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Decision.RetryAfter, true
	}
	return 0, false
}
