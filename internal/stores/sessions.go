package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionSchemaVersion = 1

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionRedisUnavailable = errors.New("session redis unavailable")
	ErrSessionCorrupt          = errors.New("session record corrupt")
)

// SessionRecord is the server-side half of an authenticated session.
type SessionRecord struct {
	Version   int       `json:"v"`
	SessionID string    `json:"sid"`
	UserID    string    `json:"uid"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore persists session records under `{prefix}:{sessionID}`.
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessionStore(redisClient redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &SessionStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Save writes rec with ttl. The record's SessionID selects the key.
func (s *SessionStore) Save(ctx context.Context, rec SessionRecord, ttl time.Duration) error {
	rec.Version = sessionSchemaVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if err := s.redis.Set(ctx, s.key(rec.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Unknown schema versions are deleted and reported as
// not found.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionRedisUnavailable, err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Version != sessionSchemaVersion {
		_ = s.redis.Del(ctx, s.key(sessionID)).Err()
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionRedisUnavailable, err)
	}
	return nil
}
