package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/otpbroker"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OTPBROKER"

type (
	settings struct {
		Address    string `mapstructure:"address" yaml:"address"`
		Debug      bool   `mapstructure:"debug" yaml:"debug"`
		TrustProxy bool   `mapstructure:"trust_proxy" yaml:"trust_proxy"`
		// Dev runs against an in-process Redis and in-memory users.
		Dev bool `mapstructure:"dev" yaml:"dev"`

		Redis    redisSettings    `mapstructure:"redis" yaml:"redis"`
		Database databaseSettings `mapstructure:"database" yaml:"database"`
		JWT      jwtSettings      `mapstructure:"jwt" yaml:"jwt"`
		OTP      otpSettings      `mapstructure:"otp" yaml:"otp"`
		Limits   limitSettings    `mapstructure:"limits" yaml:"limits"`
		Audit    bool             `mapstructure:"audit" yaml:"audit"`
		SendGrid sendGridSettings `mapstructure:"sendgrid" yaml:"sendgrid"`
		Rollbar  rollbarSettings  `mapstructure:"rollbar" yaml:"rollbar"`
	}

	redisSettings struct {
		Addrs    []string `mapstructure:"addrs" yaml:"addrs"`
		Password string   `mapstructure:"password" yaml:"password"`
		DB       int      `mapstructure:"db" yaml:"db"`
	}

	databaseSettings struct {
		URL      string `mapstructure:"url" yaml:"url"`
		MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
		Schema   string `mapstructure:"schema" yaml:"schema"`
	}

	jwtSettings struct {
		// Key is the HS256 secret, base64 encoded.
		Key       string        `mapstructure:"key" yaml:"key"`
		Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
		Audience  string        `mapstructure:"audience" yaml:"audience"`
		AccessTTL time.Duration `mapstructure:"access_ttl" yaml:"access_ttl"`
	}

	otpSettings struct {
		TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
		MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
		Subject     string        `mapstructure:"subject" yaml:"subject"`
	}

	limitSettings struct {
		IPThrottle   bool `mapstructure:"ip_throttle" yaml:"ip_throttle"`
		IPMultiplier int  `mapstructure:"ip_multiplier" yaml:"ip_multiplier"`
	}

	sendGridSettings struct {
		APIKey    string `mapstructure:"api_key" yaml:"api_key"`
		FromEmail string `mapstructure:"from_email" yaml:"from_email"`
		FromName  string `mapstructure:"from_name" yaml:"from_name"`
	}

	rollbarSettings struct {
		Token       string `mapstructure:"token" yaml:"token"`
		Environment string `mapstructure:"environment" yaml:"environment"`
	}
)

func setDefaults(v *viper.Viper) {
	def := otpbroker.DefaultConfig()

	v.SetDefault("address", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("dev", false)
	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.schema", "public")
	v.SetDefault("jwt.key", "")
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("jwt.audience", def.JWT.Audience)
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("otp.ttl", def.OTP.TTL)
	v.SetDefault("otp.max_attempts", def.OTP.MaxAttempts)
	v.SetDefault("otp.subject", def.OTP.MailSubject)
	v.SetDefault("limits.ip_throttle", def.RateLimit.EnableIPThrottle)
	v.SetDefault("limits.ip_multiplier", def.RateLimit.IPMultiplier)
	v.SetDefault("audit", false)
	v.SetDefault("sendgrid.api_key", "")
	v.SetDefault("sendgrid.from_email", "")
	v.SetDefault("sendgrid.from_name", "")
	v.SetDefault("rollbar.token", "")
	v.SetDefault("rollbar.environment", "production")
}

// loadSettings reads envFile when it exists, then the optional YAML file, then
// OTPBROKER_* variables (redis.addrs is OTPBROKER_REDIS_ADDRS).
func loadSettings(v *viper.Viper, envFile, configFile string) (settings, error) {
	var s settings

	// load .env if it exists (ignore if it does not)
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return s, fmt.Errorf("godotenv(%s): %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return s, fmt.Errorf("stat(%s): %w", envFile, err)
		}
	}

	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return s, fmt.Errorf("reading %s: %w", configFile, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&s); err != nil {
		return s, err
	}
	return s, nil
}

// engineConfig maps settings onto the broker configuration.
func (s settings) engineConfig() (otpbroker.Config, error) {
	cfg := otpbroker.DefaultConfig()

	key, err := base64.StdEncoding.DecodeString(s.JWT.Key)
	if err != nil {
		return cfg, fmt.Errorf("jwt.key: %w", err)
	}
	cfg.JWT.PrivateKey = key
	cfg.JWT.Issuer = s.JWT.Issuer
	cfg.JWT.Audience = s.JWT.Audience
	cfg.JWT.AccessTTL = s.JWT.AccessTTL

	cfg.OTP.TTL = s.OTP.TTL
	cfg.OTP.MaxAttempts = s.OTP.MaxAttempts
	cfg.OTP.MailSubject = s.OTP.Subject

	cfg.RateLimit.EnableIPThrottle = s.Limits.IPThrottle
	cfg.RateLimit.IPMultiplier = s.Limits.IPMultiplier

	cfg.Audit.Enabled = s.Audit

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// redacted returns a copy safe to print.
func (s settings) redacted() settings {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	s.Redis.Password = mask(s.Redis.Password)
	s.JWT.Key = mask(s.JWT.Key)
	s.SendGrid.APIKey = mask(s.SendGrid.APIKey)
	s.Rollbar.Token = mask(s.Rollbar.Token)
	if s.Database.URL != "" {
		s.Database.URL = redactURL(s.Database.URL)
	}
	return s
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "********"
	}
	return u.Redacted()
}
