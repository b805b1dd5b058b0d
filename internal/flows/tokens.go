package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/otpbroker/internal/limiters"
	"github.com/MrEthical07/otpbroker/internal/metrics"
	"github.com/MrEthical07/otpbroker/internal/stores"
)

// tokenMintAttempts bounds retries on the (practically impossible) UUID
// collision reported by SETNX.
const tokenMintAttempts = 3

type TokenEvents struct {
	TempTokenIssued     string
	TempTokenConsumed   string
	SignInTokenIssued   string
	SignInTokenConsumed string
	TokenLookupFailure  string
}

// TokenDeps captures temp-token and sign-in-token dependencies.
type TokenDeps struct {
	Common

	TempTokenTTL   time.Duration
	SignInTokenTTL time.Duration

	NewToken func() (string, error)
	IsToken  func(string) bool

	SaveToken    func(ctx context.Context, kind stores.TokenKind, token, email string, ttl time.Duration) error
	ConsumeToken func(ctx context.Context, kind stores.TokenKind, token string) (string, error)

	Events TokenEvents
}

func normalizeTokenDeps(deps *TokenDeps) {
	normalizeCommon(&deps.Common)
	if deps.IsToken == nil {
		deps.IsToken = func(s string) bool { return s != "" }
	}
}

func (d TokenDeps) ttl(kind stores.TokenKind) time.Duration {
	if kind == stores.SignInToken {
		return d.SignInTokenTTL
	}
	return d.TempTokenTTL
}

// RunIssueToken mints and stores a token of kind for an already normalized
// email. It applies no rate limit.
func RunIssueToken(ctx context.Context, kind stores.TokenKind, normalized string, deps TokenDeps) (string, error) {
	normalizeTokenDeps(&deps)
	if deps.NewToken == nil || deps.SaveToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	var lastErr error
	for i := 0; i < tokenMintAttempts; i++ {
		token, err := deps.NewToken()
		if err != nil {
			return "", deps.Internal(ctx, "token.generate", err)
		}
		err = deps.SaveToken(ctx, kind, token, normalized, deps.ttl(kind))
		if err == nil {
			emailHash := deps.KeyHash(normalized)
			if kind == stores.SignInToken {
				deps.MetricInc(metrics.MetricSignInTokenIssued)
				deps.EmitAudit(ctx, deps.Events.SignInTokenIssued, true, "", emailHash, "", nil, nil)
			} else {
				deps.MetricInc(metrics.MetricTempTokenIssued)
				deps.EmitAudit(ctx, deps.Events.TempTokenIssued, true, "", emailHash, "", nil, nil)
			}
			return token, nil
		}
		if !errors.Is(err, stores.ErrTokenCollision) {
			return "", deps.Internal(ctx, "token.save", err)
		}
		lastErr = err
	}
	return "", deps.Internal(ctx, "token.save", lastErr)
}

// RunGenerateTempToken validates and rate-limits email, then issues a temp
// token for it.
func RunGenerateTempToken(ctx context.Context, email string, deps TokenDeps) (string, error) {
	normalizeTokenDeps(&deps)
	if deps.NormalizeEmail == nil {
		return "", deps.Errors.EngineNotReady
	}

	normalized, ok := deps.NormalizeEmail(email)
	if !ok {
		return "", deps.Errors.InvalidEmail
	}
	if err := deps.CheckRate(ctx, limiters.PurposeTempToken, normalized, deps.ClientIPFromContext(ctx)); err != nil {
		return "", err
	}
	return RunIssueToken(ctx, stores.TempToken, normalized, deps)
}

// RunGetEmailFromToken resolves a temp token to its email and consumes it.
func RunGetEmailFromToken(ctx context.Context, token string, deps TokenDeps) (string, error) {
	return consumeToken(ctx, stores.TempToken, limiters.PurposeEmailFromToken, token, deps)
}

// RunConsumeSignInToken resolves a sign-in token to its email and consumes it.
func RunConsumeSignInToken(ctx context.Context, token string, deps TokenDeps) (string, error) {
	return consumeToken(ctx, stores.SignInToken, limiters.PurposeSignInExchange, token, deps)
}

func consumeToken(ctx context.Context, kind stores.TokenKind, purpose limiters.Purpose, token string, deps TokenDeps) (string, error) {
	normalizeTokenDeps(&deps)
	if deps.ConsumeToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	token = strings.TrimSpace(token)
	if !deps.IsToken(token) {
		return "", deps.Errors.InvalidToken
	}
	if err := deps.CheckRate(ctx, purpose, token, deps.ClientIPFromContext(ctx)); err != nil {
		return "", err
	}

	email, err := deps.ConsumeToken(ctx, kind, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			deps.MetricInc(metrics.MetricTokenNotFound)
			deps.EmitAudit(ctx, deps.Events.TokenLookupFailure, false, "", "", "", deps.Errors.TokenNotFound, func() map[string]string {
				return map[string]string{
					"kind": string(kind),
				}
			})
			return "", deps.Errors.TokenNotFound
		}
		return "", deps.Internal(ctx, "token.consume", err)
	}

	emailHash := deps.KeyHash(email)
	if kind == stores.SignInToken {
		deps.MetricInc(metrics.MetricSignInTokenExchanged)
		deps.EmitAudit(ctx, deps.Events.SignInTokenConsumed, true, "", emailHash, "", nil, nil)
	} else {
		deps.MetricInc(metrics.MetricTempTokenConsumed)
		deps.EmitAudit(ctx, deps.Events.TempTokenConsumed, true, "", emailHash, "", nil, nil)
	}
	return email, nil
}
