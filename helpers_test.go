package otpbroker

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
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

// testConfig keeps Argon2 cheap so tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

type mockUserProvider struct {
	mu      sync.Mutex
	users   map[string]User
	byEmail map[string]string
	failGet error
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:   map[string]User{},
		byEmail: map[string]string{},
	}
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return User{}, m.failGet
	}
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok {
		return User{}, ErrAccountExists
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		Status:       in.Status,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

func (m *mockUserProvider) UpdateStatus(_ context.Context, id string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	m.users[id] = u
	return nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *mockUserProvider) user(email string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[m.byEmail[email]]
}

// seed stores a user whose password is pw, hashed with cfg's parameters.
func (m *mockUserProvider) seed(t *testing.T, cfg Config, email, pw string, status AccountStatus) User {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := h.Hash(pw)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u, err := m.CreateUser(context.Background(), CreateUserInput{
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Role:         RoleStudent,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	users *mockUserProvider
	mail  *mailer.Recorder
}

func buildTestEngine(t *testing.T, cfg Config, opts ...func(*Builder)) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	users := newMockUserProvider()
	mail := mailer.NewRecorder()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithMailer(mail)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, users: users, mail: mail}
}

var codePattern = regexp.MustCompile(`code is (\d+)\.`)

// lastCode extracts the most recent code mailed to addr.
func (te *testEngine) lastCode(t *testing.T, addr string) string {
	t.Helper()
	msg, ok := te.mail.Last(strings.TrimSpace(addr))
	if !ok {
		t.Fatalf("no mail sent to %q", addr)
	}
	m := codePattern.FindStringSubmatch(msg.Text)
	if m == nil {
		t.Fatalf("no code in mail body %q", msg.Text)
	}
	return m[1]
}

func wrongCode(code string) string {
	if code[0] == '9' {
		return "0" + code[1:]
	}
	return string(code[0]+1) + code[1:]
}
