package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/middleware"
	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*otpbroker.Engine, *userstore.Memory) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := otpbroker.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1

	users := userstore.NewMemory()
	engine, err := otpbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithMailer(mailer.NewRecorder()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine, users
}

func accessToken(t *testing.T, engine *otpbroker.Engine, users *userstore.Memory, email string, role otpbroker.Role) *otpbroker.SessionTokens {
	t.Helper()
	ctx := context.Background()

	_, err := users.CreateUser(ctx, otpbroker.CreateUserInput{
		Email:  email,
		Name:   "Guard Test",
		Role:   role,
		Status: otpbroker.AccountActive,
	})
	require.NoError(t, err)

	signIn, err := engine.IssueSignInToken(ctx, email)
	require.NoError(t, err)
	tokens, err := engine.ExchangeSignInToken(ctx, signIn)
	require.NoError(t, err)
	return tokens
}

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := middleware.AuthResultFromContext(r.Context())
		if !ok {
			t.Error("auth result missing from context")
			return
		}
		_, _ = w.Write([]byte(res.UserID))
	})
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	engine, users := newEngine(t)
	tokens := accessToken(t, engine, users, "alice@example.com", otpbroker.RoleStudent)
	h := middleware.Guard(engine)(protected(t))

	rec := serve(h, "Bearer "+tokens.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tokens.User.ID, rec.Body.String())

	for _, authz := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-jwt"} {
		rec := serve(h, authz)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "authz %q", authz)
		assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	}

	require.NoError(t, engine.Logout(context.Background(), tokens.SessionID))
	rec = serve(h, "Bearer "+tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuardNilEngine(t *testing.T) {
	rec := serve(middleware.Guard(nil)(protected(t)), "Bearer x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	engine, users := newEngine(t)
	student := accessToken(t, engine, users, "student@example.com", otpbroker.RoleStudent)
	admin := accessToken(t, engine, users, "admin@example.com", otpbroker.RoleAdmin)
	h := middleware.RequireRole(engine, otpbroker.RoleAdmin)(protected(t))

	rec := serve(h, "Bearer "+student.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"permission denied"}`, rec.Body.String())

	rec = serve(h, "bearer "+admin.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admin.User.ID, rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	tok, ok := middleware.BearerToken("Bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = middleware.BearerToken("Bearer")
	assert.False(t, ok)
}
