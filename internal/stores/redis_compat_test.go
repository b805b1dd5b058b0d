//go:build integration
// +build integration

package stores

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/otpbroker/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes always includes miniredis. Real backends are added when
// REDIS_ADDR, REDIS_CLUSTER_ADDRS or REDIS_SENTINEL_ADDRS is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				_, rdb := newTestRedis(t)
				return rdb
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				return connect(t, redis.NewClient(&redis.Options{Addr: addr}), true)
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) redis.UniversalClient {
				return connect(t, redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)}), false)
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) redis.UniversalClient {
				return connect(t, redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				}), true)
			},
		})
	}

	return modes
}

func connect(t *testing.T, rdb redis.UniversalClient, flush bool) redis.UniversalClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("cannot connect to redis: %v", err)
	}
	if flush {
		rdb.FlushDB(context.Background())
	}
	t.Cleanup(func() {
		if flush {
			rdb.FlushDB(context.Background())
		}
		_ = rdb.Close()
	})
	return rdb
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func TestRedisCompatibility(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			rdb := mode.setup(t)

			t.Run("otp consumed once", func(t *testing.T) {
				s := NewOTPStore(rdb, "compat-otp")
				if err := s.Save(ctx, "e1", codeHash("424242"), time.Minute); err != nil {
					t.Fatalf("save: %v", err)
				}
				check, err := s.Consume(ctx, "e1", codeHash("000000"), 3)
				if err != nil || check.Outcome != OTPMismatch || check.Attempts != 1 {
					t.Fatalf("mismatch: %+v %v", check, err)
				}
				check, err = s.Consume(ctx, "e1", codeHash("424242"), 3)
				if err != nil || check.Outcome != OTPMatched {
					t.Fatalf("match: %+v %v", check, err)
				}
				if _, err := s.Consume(ctx, "e1", codeHash("424242"), 3); !errors.Is(err, ErrOTPNotFound) {
					t.Fatalf("expected ErrOTPNotFound, got %v", err)
				}
			})

			t.Run("token consumed once", func(t *testing.T) {
				s := NewTokenStore(rdb)
				if err := s.Save(ctx, TempToken, "compat-tok", "a@example.com", time.Minute); err != nil {
					t.Fatalf("save: %v", err)
				}
				if err := s.Save(ctx, TempToken, "compat-tok", "b@example.com", time.Minute); !errors.Is(err, ErrTokenCollision) {
					t.Fatalf("expected ErrTokenCollision, got %v", err)
				}
				email, err := s.Consume(ctx, TempToken, "compat-tok")
				if err != nil || email != "a@example.com" {
					t.Fatalf("consume: %q %v", email, err)
				}
				if _, err := s.Consume(ctx, TempToken, "compat-tok"); !errors.Is(err, ErrTokenNotFound) {
					t.Fatalf("expected ErrTokenNotFound, got %v", err)
				}
			})

			t.Run("session round trip", func(t *testing.T) {
				s := NewSessionStore(rdb, "compat-sess")
				now := time.Now().UTC().Truncate(time.Second)
				rec := SessionRecord{SessionID: "s1", UserID: "u1", Email: "a@example.com", Role: "student", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
				if err := s.Save(ctx, rec, time.Hour); err != nil {
					t.Fatalf("save: %v", err)
				}
				got, err := s.Get(ctx, "s1")
				if err != nil || got.UserID != "u1" {
					t.Fatalf("get: %+v %v", got, err)
				}
				if err := s.Delete(ctx, "s1"); err != nil {
					t.Fatalf("delete: %v", err)
				}
				if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
					t.Fatalf("expected ErrSessionNotFound, got %v", err)
				}
			})

			t.Run("fixed window", func(t *testing.T) {
				l := rate.New(rdb)
				w := rate.Window{Max: 2, Length: time.Minute}
				for i := 0; i < 2; i++ {
					if _, err := l.Enforce(ctx, "compat-rl", w); err != nil {
						t.Fatalf("request %d: %v", i+1, err)
					}
				}
				d, err := l.Enforce(ctx, "compat-rl", w)
				if !errors.Is(err, rate.ErrRateLimited) || d.RetryAfter <= 0 {
					t.Fatalf("expected rejection with retry-after, got %+v %v", d, err)
				}
			})
		})
	}
}
