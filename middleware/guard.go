package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/otpbroker"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by a guard.
func AuthResultFromContext(ctx context.Context) (*otpbroker.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*otpbroker.AuthResult)
	return res, ok && res != nil
}

// WithAuthResult stores res in ctx. Guards call it after a successful Validate.
func WithAuthResult(ctx context.Context, res *otpbroker.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard rejects requests without a valid bearer access token with 401.
func Guard(engine *otpbroker.Engine) func(http.Handler) http.Handler {
	return RequireRole(engine)
}

// RequireRole behaves like [Guard] and then rejects callers whose role is not
// listed with 403. No roles means any authenticated caller passes.
func RequireRole(engine *otpbroker.Engine, roles ...otpbroker.Role) func(http.Handler) http.Handler {
	allowed := make(map[otpbroker.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, otpbroker.ErrUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, otpbroker.ErrUnauthorized)
				return
			}

			res, err := engine.Validate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if otpbroker.CodeOf(err) == otpbroker.CodeInternalServerError {
					status = http.StatusInternalServerError
				}
				writeError(w, status, err)
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[res.Role]; !ok {
					writeError(w, http.StatusForbidden, otpbroker.ErrForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": otpbroker.PublicMessage(err)})
}
