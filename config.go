package otpbroker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of the broker. Obtain a baseline with
// [DefaultConfig], adjust, and pass it to [Builder.WithConfig].
type Config struct {
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Tokens    TokenConfig
	Session   SessionConfig
	JWT       JWTConfig
	Password  PasswordConfig
	Account   AccountConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls one-time passcode issuance and verification.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
	// MailSubject is the subject line of the delivery email.
	MailSubject string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// Window is a fixed-window budget: at most Max requests per Length.
type Window struct {
	Max    int
	Length time.Duration
}

// RateLimitConfig holds one identity window per rate-limited operation.
// IPThrottle adds a second per-IP window (IPMultiplier times the identity
// budget) for callers that attach an IP with [WithClientIP].
type RateLimitConfig struct {
	SendOTP        Window
	VerifyOTP      Window
	TempToken      Window
	EmailFromToken Window
	SignInToken    Window
	SignUp         Window
	Login          Window

	EnableIPThrottle bool
	IPMultiplier     int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig sets lifetimes of the opaque single-use tokens.
type TokenConfig struct {
	TempTokenTTL   time.Duration
	SignInTokenTTL time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session records.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinBytes       int
	MaxBytes       int
	UpgradeOnLogin bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls self-service sign-up.
type AccountConfig struct {
	SignUpEnabled bool
	DefaultRole   Role
	// AllowedSignUpRoles lists roles a caller may request at sign-up.
	AllowedSignUpRoles []Role
	MaxNameLength      int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production-leaning defaults. JWT keys are empty and
// must be supplied before Build.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:      6,
			TTL:         300 * time.Second,
			MaxAttempts: 5,
			RedisPrefix: "otp",
			MailSubject: "Your verification code",
		},
		RateLimit: RateLimitConfig{
			SendOTP:          Window{Max: 5, Length: time.Hour},
			VerifyOTP:        Window{Max: 5, Length: 5 * time.Minute},
			TempToken:        Window{Max: 10, Length: time.Hour},
			EmailFromToken:   Window{Max: 10, Length: 60 * time.Second},
			SignInToken:      Window{Max: 5, Length: 60 * time.Second},
			SignUp:           Window{Max: 5, Length: time.Hour},
			Login:            Window{Max: 10, Length: 15 * time.Minute},
			EnableIPThrottle: false,
			IPMultiplier:     4,
		},
		Tokens: TokenConfig{
			TempTokenTTL:   600 * time.Second,
			SignInTokenTTL: 300 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "sess",
			TTL:         7 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "otpbroker",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           1,
			Parallelism:    4,
			SaltLength:     16,
			KeyLength:      32,
			MinBytes:       8,
			MaxBytes:       1024,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			SignUpEnabled:      true,
			DefaultRole:        RoleStudent,
			AllowedSignUpRoles: []Role{RoleStudent, RoleInstructor},
			MaxNameLength:      100,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Account.AllowedSignUpRoles = append([]Role(nil), cfg.Account.AllowedSignUpRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be within (0, 1h]")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 20 {
		return errors.New("OTP MaxAttempts must be within [1, 20]")
	}
	if err := validateKeyPrefix("OTP", c.OTP.RedisPrefix); err != nil {
		return err
	}

	// Rate limits
	for _, w := range []struct {
		name string
		win  Window
	}{
		{"SendOTP", c.RateLimit.SendOTP},
		{"VerifyOTP", c.RateLimit.VerifyOTP},
		{"TempToken", c.RateLimit.TempToken},
		{"EmailFromToken", c.RateLimit.EmailFromToken},
		{"SignInToken", c.RateLimit.SignInToken},
		{"SignUp", c.RateLimit.SignUp},
		{"Login", c.RateLimit.Login},
	} {
		if w.win.Max <= 0 {
			return fmt.Errorf("RateLimit %s Max must be > 0", w.name)
		}
		if w.win.Length < time.Second || w.win.Length > 24*time.Hour {
			return fmt.Errorf("RateLimit %s Length must be within [1s, 24h]", w.name)
		}
	}
	if c.RateLimit.EnableIPThrottle && c.RateLimit.IPMultiplier < 1 {
		return errors.New("RateLimit IPMultiplier must be >= 1 when EnableIPThrottle is true")
	}

	// Tokens
	if c.Tokens.TempTokenTTL <= 0 || c.Tokens.TempTokenTTL > time.Hour {
		return errors.New("Tokens TempTokenTTL must be within (0, 1h]")
	}
	if c.Tokens.SignInTokenTTL <= 0 || c.Tokens.SignInTokenTTL > time.Hour {
		return errors.New("Tokens SignInTokenTTL must be within (0, 1h]")
	}

	// Session
	if err := validateKeyPrefix("Session", c.Session.RedisPrefix); err != nil {
		return err
	}
	if c.OTP.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("OTP and Session RedisPrefix must differ")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > c.Session.TTL {
		return errors.New("JWT AccessTTL must not exceed Session TTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinBytes < 1 || c.Password.MaxBytes < c.Password.MinBytes {
		return errors.New("Password MinBytes/MaxBytes are invalid")
	}

	// Account
	if !c.Account.DefaultRole.Valid() {
		return errors.New("Account DefaultRole is invalid")
	}
	for _, r := range c.Account.AllowedSignUpRoles {
		if !r.Valid() {
			return fmt.Errorf("Account AllowedSignUpRoles contains invalid role %q", r)
		}
	}
	if c.Account.MaxNameLength <= 0 {
		return errors.New("Account MaxNameLength must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// validateKeyPrefix keeps record prefixes out of the rate-limit and token
// namespaces.
func validateKeyPrefix(section, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("%s RedisPrefix must not be empty", section)
	}
	if strings.Contains(prefix, ":") {
		return fmt.Errorf("%s RedisPrefix must not contain ':'", section)
	}
	if reservedKeyPrefix(prefix) {
		return fmt.Errorf("%s RedisPrefix %q is reserved", section, prefix)
	}
	return nil
}

func (c *Config) signUpRoleAllowed(r Role) bool {
	for _, allowed := range c.Account.AllowedSignUpRoles {
		if allowed == r {
			return true
		}
	}
	return false
}
