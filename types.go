package otpbroker

import (
	"context"
	"time"
)

// Role is the account role carried in access tokens.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	default:
		return false
	}
}

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountPendingVerification
	AccountDisabled
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountPendingVerification:
		return "pending_verification"
	case AccountDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseAccountStatus is the inverse of AccountStatus.String.
func ParseAccountStatus(s string) (AccountStatus, bool) {
	switch s {
	case "active":
		return AccountActive, true
	case "pending_verification":
		return AccountPendingVerification, true
	case "disabled":
		return AccountDisabled, true
	default:
		return 0, false
	}
}

// User is the record a [UserProvider] returns. Email is always normalized.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Status       AccountStatus
	CreatedAt    time.Time
}

// CreateUserInput is passed to [UserProvider.CreateUser] during sign-up.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Status       AccountStatus
}

// UserProvider is the persistence boundary for accounts. Implementations must
// return [ErrUserNotFound] for unknown users and [ErrAccountExists] when
// CreateUser hits an existing email.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	CreateUser(ctx context.Context, input CreateUserInput) (User, error)
	UpdateStatus(ctx context.Context, userID string, status AccountStatus) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// ErrorReporter receives internal failures, typically an external tracker.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]string)
}

// SendOTPResult is returned by [Engine.SendOTP].
type SendOTPResult struct {
	Success bool
	Message string
}

// VerifyOTPResult is returned by [Engine.VerifyOTP]. A wrong code is
// Success=false with a nil error.
type VerifyOTPResult struct {
	Success           bool
	Message           string
	SignInToken       string
	AttemptsRemaining int
}

// SignUpRequest is the input of [Engine.SignUp]. An empty Role selects
// AccountConfig.DefaultRole.
type SignUpRequest struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// Profile is the public view of a user.
type Profile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Status string `json:"status"`
}

// SessionTokens is returned by [Engine.ExchangeSignInToken].
type SessionTokens struct {
	AccessToken string
	SessionID   string
	ExpiresAt   time.Time
	User        Profile
}

// AuthResult is returned by [Engine.Validate].
type AuthResult struct {
	UserID    string
	Email     string
	Role      Role
	SessionID string
	ExpiresAt time.Time
}

// SecurityReport summarizes the effective security posture of an Engine.
type SecurityReport struct {
	SigningAlgorithm string
	OTPDigits        int
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	TempTokenTTL     time.Duration
	SignInTokenTTL   time.Duration
	SessionTTL       time.Duration
	AccessTTL        time.Duration
	Argon2           PasswordConfigReport
	IPThrottle       bool
	SignUpEnabled    bool
	AuditEnabled     bool
	MetricsEnabled   bool
	Warnings         []string
}

// PasswordConfigReport is the Argon2id section of a [SecurityReport].
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func profileOf(u User) Profile {
	return Profile{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
		Status: u.Status.String(),
	}
}
