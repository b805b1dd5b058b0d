package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func codeHash(code string) [32]byte {
	return sha256.Sum256([]byte("h:" + code))
}

func TestOTPConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Save(ctx, "abc", codeHash("123456"), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Consume(ctx, "abc", codeHash("123456"), 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Outcome != OTPMatched {
		t.Fatalf("expected match, got %+v", got)
	}

	if _, err := s.Consume(ctx, "abc", codeHash("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound on replay, got %v", err)
	}
}

func TestOTPMismatchCountsAttemptsAndKeepsTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	if err := s.Save(ctx, "abc", codeHash("123456"), 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(time.Minute)

	got, err := s.Consume(ctx, "abc", codeHash("000000"), 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Outcome != OTPMismatch || got.Attempts != 1 {
		t.Fatalf("expected first mismatch, got %+v", got)
	}

	ttl := mr.TTL("otp:abc")
	if ttl <= 0 || ttl > 4*time.Minute {
		t.Fatalf("expected remaining ttl preserved, got %v", ttl)
	}

	got, err = s.Consume(ctx, "abc", codeHash("123456"), 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Outcome != OTPMatched {
		t.Fatalf("expected correct code to still match, got %+v", got)
	}
}

func TestOTPAttemptsExhaustedDeletesRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	_ = s.Save(ctx, "abc", codeHash("123456"), 5*time.Minute)

	for i := 1; i < 3; i++ {
		got, err := s.Consume(ctx, "abc", codeHash("000000"), 3)
		if err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
		if got.Outcome != OTPMismatch {
			t.Fatalf("expected mismatch on attempt %d, got %+v", i, got)
		}
	}

	got, err := s.Consume(ctx, "abc", codeHash("000000"), 3)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Outcome != OTPAttemptsExhausted || got.Attempts != 3 {
		t.Fatalf("expected exhaustion at attempt 3, got %+v", got)
	}
	if mr.Exists("otp:abc") {
		t.Fatal("expected record deleted after exhaustion")
	}
	if _, err := s.Consume(ctx, "abc", codeHash("123456"), 3); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound after exhaustion, got %v", err)
	}
}

func TestOTPExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	_ = s.Save(ctx, "abc", codeHash("123456"), 300*time.Second)
	mr.FastForward(301 * time.Second)

	if _, err := s.Consume(ctx, "abc", codeHash("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound after expiry, got %v", err)
	}
}

func TestOTPSaveReplacesEarlierCode(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	_ = s.Save(ctx, "abc", codeHash("111111"), time.Minute)
	_, _ = s.Consume(ctx, "abc", codeHash("999999"), 5)
	_ = s.Save(ctx, "abc", codeHash("222222"), time.Minute)

	got, err := s.Consume(ctx, "abc", codeHash("111111"), 5)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Outcome != OTPMismatch || got.Attempts != 1 {
		t.Fatalf("expected old code rejected with fresh attempts, got %+v", got)
	}
}

func TestOTPConcurrentConsumeSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	ctx := context.Background()

	_ = s.Save(ctx, "abc", codeHash("123456"), time.Minute)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Consume(ctx, "abc", codeHash("123456"), 5)
			if err == nil && got.Outcome == OTPMatched {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestOTPCorruptRecordIsNotFound(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")

	if err := mr.Set("otp:abc", "garbage"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := s.Consume(context.Background(), "abc", codeHash("123456"), 5); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound, got %v", err)
	}
	if mr.Exists("otp:abc") {
		t.Fatal("expected corrupt record removed")
	}
}

func TestOTPRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewOTPStore(rdb, "")
	mr.Close()

	if err := s.Save(context.Background(), "abc", codeHash("1"), time.Minute); !errors.Is(err, ErrOTPRedisUnavailable) {
		t.Fatalf("expected ErrOTPRedisUnavailable, got %v", err)
	}
}

func TestTokenSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewTokenStore(rdb)
	ctx := context.Background()

	if err := s.Save(ctx, TempToken, "tok-1", "alice@example.com", 10*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	email, err := s.Consume(ctx, TempToken, "tok-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if email != "alice@example.com" {
		t.Fatalf("unexpected email %q", email)
	}

	if _, err := s.Consume(ctx, TempToken, "tok-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on second use, got %v", err)
	}
}

func TestTokenKindsAreSeparate(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewTokenStore(rdb)
	ctx := context.Background()

	_ = s.Save(ctx, SignInToken, "tok-1", "alice@example.com", time.Minute)

	if _, err := s.Consume(ctx, TempToken, "tok-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected sign-in token invisible as temp token, got %v", err)
	}
	if _, err := s.Peek(ctx, SignInToken, "tok-1"); err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
}

func TestTokenCollisionAndExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewTokenStore(rdb)
	ctx := context.Background()

	_ = s.Save(ctx, TempToken, "tok-1", "a@example.com", time.Minute)
	if err := s.Save(ctx, TempToken, "tok-1", "b@example.com", time.Minute); !errors.Is(err, ErrTokenCollision) {
		t.Fatalf("expected ErrTokenCollision, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, err := s.Consume(ctx, TempToken, "tok-1"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestSessionRoundTripAndDelete(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewSessionStore(rdb, "")
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := SessionRecord{
		SessionID: "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		UserID:    "u1",
		Email:     "alice@example.com",
		Role:      "student",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("sess:01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Fatal("expected session key")
	}

	got, err := s.Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "u1" || got.Role != "student" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := s.Delete(ctx, rec.SessionID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, rec.SessionID); err != nil {
		t.Fatalf("second Delete should be idempotent: %v", err)
	}
	if _, err := s.Get(ctx, rec.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionUnknownSchemaIsDropped(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewSessionStore(rdb, "")

	_ = mr.Set("sess:x", `{"v":99,"sid":"x"}`)
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if mr.Exists("sess:x") {
		t.Fatal("expected unknown schema record deleted")
	}
}
