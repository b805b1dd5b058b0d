package flows

import (
	"context"

	"github.com/MrEthical07/otpbroker/internal/stores"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.OTP.SaveOTP != nil && s.deps.Token.SaveToken != nil
}

func (s Service) SendOTP(ctx context.Context, email string) error {
	return RunSendOTP(ctx, email, s.deps.OTP)
}

func (s Service) VerifyOTP(ctx context.Context, email, code string) (VerifyOutcome, error) {
	return RunVerifyOTP(ctx, email, code, s.deps.OTP)
}

func (s Service) GenerateTempToken(ctx context.Context, email string) (string, error) {
	return RunGenerateTempToken(ctx, email, s.deps.Token)
}

func (s Service) GetEmailFromToken(ctx context.Context, token string) (string, error) {
	return RunGetEmailFromToken(ctx, token, s.deps.Token)
}

func (s Service) IssueTempToken(ctx context.Context, normalized string) (string, error) {
	return RunIssueToken(ctx, stores.TempToken, normalized, s.deps.Token)
}

func (s Service) IssueSignInToken(ctx context.Context, normalized string) (string, error) {
	return RunIssueToken(ctx, stores.SignInToken, normalized, s.deps.Token)
}

func (s Service) ConsumeSignInToken(ctx context.Context, token string) (string, error) {
	return RunConsumeSignInToken(ctx, token, s.deps.Token)
}

func (s Service) SignUp(ctx context.Context, req SignUpRequest) (string, error) {
	return RunSignUp(ctx, req, s.deps.Account)
}

func (s Service) Login(ctx context.Context, email, password string) (string, error) {
	return RunLogin(ctx, email, password, s.deps.Account)
}

func (s Service) CompleteVerification(ctx context.Context, normalized string) (string, error) {
	return RunCompleteVerification(ctx, normalized, s.deps.Account)
}

func (s Service) ExchangeSignInToken(ctx context.Context, token string) (*SessionIssue, error) {
	return RunExchangeSignInToken(ctx, token, s.deps.Session)
}

func (s Service) Validate(ctx context.Context, token string) (*ValidatedSession, error) {
	return RunValidate(ctx, token, s.deps.Session)
}

func (s Service) Logout(ctx context.Context, sessionID string) error {
	return RunLogout(ctx, sessionID, s.deps.Session)
}
