package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersionV1 = 1
	otpRecordSize      = 1 + 2 + 32
)

var (
	ErrOTPNotFound         = errors.New("otp not found")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// consumeOTPLua atomically performs GET→compare→DEL/SET on an OTP record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts (int string)
//
// Record layout: version(1) attempts(2 big-endian) hash(32).
//
// Returns:
//
//	{1, attempts, record} on match (record deleted)
//	{0, attempts}         on mismatch below the cap (attempts persisted)
//	{2, attempts}         on mismatch reaching the cap (record deleted)
//	error string "not_found"
var consumeOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])

if string.len(data) ~= 35 or string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)
local storedHash = string.sub(data, 4, 35)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {2, attempts}
  end
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='not_found'}
  end
  local newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. storedHash
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {0, attempts}
end

redis.call('DEL', KEYS[1])
return {1, attempts, data}
`)

// OTPOutcome classifies a verification attempt against a live record.
type OTPOutcome int

const (
	OTPMatched OTPOutcome = iota + 1
	OTPMismatch
	OTPAttemptsExhausted
)

// OTPCheck is the result of [OTPStore.Consume].
type OTPCheck struct {
	Outcome  OTPOutcome
	Attempts int
}

// OTPStore keeps at most one live code per identity.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the record key for an email key hash.
func (s *OTPStore) Key(emailHash string) string {
	return s.prefix + ":" + emailHash
}

// Save stores a fresh record, replacing any earlier code and its attempts.
func (s *OTPStore) Save(ctx context.Context, emailHash string, codeHash [32]byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.Key(emailHash), encodeOTPRecord(0, codeHash), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Consume checks providedHash against the live record. A match deletes the
// record. A mismatch counts an attempt; the attempt that reaches maxAttempts
// deletes the record.
func (s *OTPStore) Consume(ctx context.Context, emailHash string, providedHash [32]byte, maxAttempts int) (OTPCheck, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	res, err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.Key(emailHash)},
		string(providedHash[:]),
		maxAttempts,
	).Slice()
	if err != nil {
		if err.Error() == "not_found" {
			return OTPCheck{}, ErrOTPNotFound
		}
		return OTPCheck{}, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(res) < 2 {
		return OTPCheck{}, fmt.Errorf("%w: unexpected lua result", ErrOTPRedisUnavailable)
	}

	status, _ := res[0].(int64)
	attempts, _ := res[1].(int64)

	switch status {
	case 0:
		return OTPCheck{Outcome: OTPMismatch, Attempts: int(attempts)}, nil
	case 2:
		return OTPCheck{Outcome: OTPAttemptsExhausted, Attempts: int(attempts)}, nil
	case 1:
		if len(res) != 3 {
			return OTPCheck{}, fmt.Errorf("%w: unexpected lua result", ErrOTPRedisUnavailable)
		}
		data, ok := res[2].(string)
		if !ok {
			return OTPCheck{}, fmt.Errorf("%w: unexpected lua result type", ErrOTPRedisUnavailable)
		}
		_, stored, decErr := decodeOTPRecord([]byte(data))
		if decErr != nil {
			return OTPCheck{}, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, decErr)
		}
		// Lua string comparison is not constant-time.
		if subtle.ConstantTimeCompare(stored[:], providedHash[:]) != 1 {
			return OTPCheck{Outcome: OTPMismatch, Attempts: int(attempts)}, nil
		}
		return OTPCheck{Outcome: OTPMatched, Attempts: int(attempts)}, nil
	default:
		return OTPCheck{}, fmt.Errorf("%w: unexpected lua status %d", ErrOTPRedisUnavailable, status)
	}
}

// Delete removes the record for emailHash. Missing records are not an error.
func (s *OTPStore) Delete(ctx context.Context, emailHash string) error {
	if err := s.redis.Del(ctx, s.Key(emailHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// TTL returns the remaining lifetime of the record, or ErrOTPNotFound.
func (s *OTPStore) TTL(ctx context.Context, emailHash string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, s.Key(emailHash)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, ErrOTPNotFound
	}
	return ttl, nil
}

func encodeOTPRecord(attempts uint16, codeHash [32]byte) []byte {
	buf := make([]byte, 0, otpRecordSize)
	buf = append(buf, otpRecordVersionV1, byte(attempts>>8), byte(attempts))
	buf = append(buf, codeHash[:]...)
	return buf
}

func decodeOTPRecord(data []byte) (uint16, [32]byte, error) {
	var hash [32]byte
	if len(data) != otpRecordSize {
		return 0, hash, errors.New("invalid otp record size")
	}
	if data[0] != otpRecordVersionV1 {
		return 0, hash, errors.New("invalid otp record version")
	}
	attempts := uint16(data[1])<<8 | uint16(data[2])
	copy(hash[:], data[3:])
	return attempts, hash, nil
}
