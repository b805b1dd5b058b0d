package userstore

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/oklog/ulid/v2"
)

var (
	_ otpbroker.UserProvider = (*Memory)(nil)
	_ otpbroker.UserProvider = (*Postgres)(nil)
)

// Memory is a map-backed user store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]otpbroker.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]otpbroker.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (otpbroker.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[emailKey(email)]
	if !ok {
		return otpbroker.User{}, otpbroker.ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (otpbroker.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return otpbroker.User{}, otpbroker.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) CreateUser(_ context.Context, in otpbroker.CreateUserInput) (otpbroker.User, error) {
	key := emailKey(in.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[key]; ok {
		return otpbroker.User{}, otpbroker.ErrAccountExists
	}

	now := m.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return otpbroker.User{}, err
	}

	u := otpbroker.User{
		ID:           id.String(),
		Email:        key,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		Status:       in.Status,
		CreatedAt:    now,
	}
	m.byID[u.ID] = u
	m.byEmail[key] = u.ID
	return u, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status otpbroker.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return otpbroker.ErrUserNotFound
	}
	u.Status = status
	m.byID[id] = u
	return nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return otpbroker.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

// Len returns the number of stored users.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
