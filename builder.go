package otpbroker

import (
	"errors"

	"github.com/MrEthical07/otpbroker/internal"
	internalaudit "github.com/MrEthical07/otpbroker/internal/audit"
	"github.com/MrEthical07/otpbroker/internal/flows"
	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/rate"
	"github.com/MrEthical07/otpbroker/internal/stores"
	"github.com/MrEthical07/otpbroker/jwt"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	mailer       mailer.Mailer
	logger       *zap.Logger
	auditSink    AuditSink
	reporter     ErrorReporter

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the store for codes, tokens, sessions and rate counters.
// Any go-redis client works, including cluster and ring clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithMailer sets the delivery channel for verification codes.
func (b *Builder) WithMailer(m mailer.Mailer) *Builder {
	b.mailer = m
	return b
}

// WithLogger sets the logger. Without one the Engine logs nothing.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. When audit is enabled and no sink
// is given, events go to the logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithErrorReporter forwards internal failures to an external tracker.
func (b *Builder) WithErrorReporter(r ErrorReporter) *Builder {
	b.reporter = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinBytes,
		MaxPasswordBytes: cfg.Password.MaxBytes,
	})
	if err != nil {
		return nil, err
	}

	dummy, err := dummyPasswordHash(ph)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = NewZapSink(logger)
	}

	engine := &Engine{
		config:       cfg,
		redis:        b.redis,
		logger:       logger.Named("otpbroker"),
		reporter:     b.reporter,
		limiter:      limiters.NewPurposeLimiter(b.redis, limiterConfig(cfg.RateLimit)),
		otpStore:     stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix),
		tokenStore:   stores.NewTokenStore(b.redis),
		sessionStore: stores.NewSessionStore(b.redis, cfg.Session.RedisPrefix),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics:      NewMetrics(cfg.Metrics),
		passwordHash: ph,
		dummyHash:    dummy,
		jwtManager:   jm,
		userProvider: b.userProvider,
		mailer:       b.mailer,
	}
	engine.flows = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

// dummyPasswordHash hashes a random secret nobody knows. Login verifies
// against it when the email has no account.
func dummyPasswordHash(ph *password.Argon2) (string, error) {
	secret, err := internal.NewToken()
	if err != nil {
		return "", err
	}
	return ph.Hash(secret)
}

func reservedKeyPrefix(prefix string) bool {
	for _, kind := range stores.TokenKinds {
		if prefix == string(kind) {
			return true
		}
	}
	for _, p := range limiters.Purposes {
		if prefix == string(p) || prefix == string(p)+"-ip" {
			return true
		}
	}
	return false
}

func limiterConfig(rl RateLimitConfig) limiters.Config {
	windows := map[limiters.Purpose]Window{
		limiters.PurposeSendOTP:        rl.SendOTP,
		limiters.PurposeVerifyOTP:      rl.VerifyOTP,
		limiters.PurposeTempToken:      rl.TempToken,
		limiters.PurposeEmailFromToken: rl.EmailFromToken,
		limiters.PurposeSignInExchange: rl.SignInToken,
		limiters.PurposeSignUp:         rl.SignUp,
		limiters.PurposeLogin:          rl.Login,
	}

	out := limiters.Config{
		Windows: make(map[limiters.Purpose]rate.Window, len(windows)),
	}
	if rl.EnableIPThrottle {
		out.IPWindows = make(map[limiters.Purpose]rate.Window, len(windows))
	}
	for p, w := range windows {
		out.Windows[p] = rate.Window{Max: w.Max, Length: w.Length}
		if rl.EnableIPThrottle {
			out.IPWindows[p] = rate.Window{Max: w.Max * rl.IPMultiplier, Length: w.Length}
		}
	}
	return out
}
