package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testApp struct {
	Server
	engine *otpbroker.Engine
	mr     *miniredis.Miniredis
	users  *userstore.Memory
	mail   *mailer.Recorder
}

func testConfig() otpbroker.Config {
	cfg := otpbroker.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

func setup(t *testing.T, cfg otpbroker.Config, opts ...func(*Options)) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := userstore.NewMemory()
	mail := mailer.NewRecorder()
	engine, err := otpbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithMailer(mail).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	o := &Options{Engine: engine, DisableReqLogs: true}
	for _, opt := range opts {
		opt(o)
	}
	srv, err := NewServer(o)
	require.NoError(t, err)

	return &testApp{Server: srv, engine: engine, mr: mr, users: users, mail: mail}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// do sends a JSON request and decodes the JSON response into out when set.
func (a *testApp) do(t *testing.T, method, path, token string, in, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if in != nil {
		data = marshalObj(t, in)
	}
	req, rec := newAuthRequest(method, path, token, data)
	a.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

var codePattern = regexp.MustCompile(`code is (\d+)\.`)

func (a *testApp) lastCode(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := a.mail.Last(addr)
	require.True(t, ok, "no mail sent to %s", addr)
	m := codePattern.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, "no code in %q", msg.Text)
	return m[1]
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}
