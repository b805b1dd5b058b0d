package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenKind selects the token namespace and doubles as its key prefix.
type TokenKind string

const (
	TempToken   TokenKind = "temp-token"
	SignInToken TokenKind = "signin-token"
)

// TokenKinds lists every token namespace.
var TokenKinds = []TokenKind{TempToken, SignInToken}

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenCollision        = errors.New("token already exists")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// TokenStore maps opaque single-use tokens to normalized emails.
type TokenStore struct {
	redis redis.UniversalClient
}

func NewTokenStore(redisClient redis.UniversalClient) *TokenStore {
	return &TokenStore{redis: redisClient}
}

// TokenKey returns the record key for a token of the given kind.
func TokenKey(kind TokenKind, token string) string {
	return string(kind) + ":" + token
}

// Save stores email under token. An existing token is never overwritten.
func (s *TokenStore) Save(ctx context.Context, kind TokenKind, token, email string, ttl time.Duration) error {
	ok, err := s.redis.SetNX(ctx, TokenKey(kind, token), email, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if !ok {
		return ErrTokenCollision
	}
	return nil
}

// Consume returns the email stored under token and deletes the record in the
// same command, so concurrent callers cannot both succeed.
func (s *TokenStore) Consume(ctx context.Context, kind TokenKind, token string) (string, error) {
	email, err := s.redis.GetDel(ctx, TokenKey(kind, token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return email, nil
}

// Peek returns the email stored under token without consuming it.
func (s *TokenStore) Peek(ctx context.Context, kind TokenKind, token string) (string, error) {
	email, err := s.redis.Get(ctx, TokenKey(kind, token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return email, nil
}

// Revoke deletes a token. Missing tokens are not an error.
func (s *TokenStore) Revoke(ctx context.Context, kind TokenKind, token string) error {
	if err := s.redis.Del(ctx, TokenKey(kind, token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}
