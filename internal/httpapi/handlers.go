package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/otpbroker"
	"github.com/labstack/echo/v4"
)

type (
	emailRequest struct {
		Email string `json:"email" validate:"required,max=320"`
	}

	verifyOTPRequest struct {
		Email string `json:"email" validate:"required,max=320"`
		OTP   string `json:"otp" validate:"required,numeric"`
	}

	tokenRequest struct {
		Token string `json:"token" validate:"required,notblank"`
	}

	signUpRequest struct {
		Name     string `json:"name" validate:"required,notblank"`
		Email    string `json:"email" validate:"required,max=320"`
		Password string `json:"password" validate:"required"`
		Role     string `json:"role" validate:"omitempty,oneof=student instructor admin"`
	}

	loginRequest struct {
		Email    string `json:"email" validate:"required,max=320"`
		Password string `json:"password" validate:"required"`
	}

	resultResponse struct {
		Success           bool   `json:"success"`
		Message           string `json:"message"`
		SignInToken       string `json:"signInToken,omitempty"`
		AttemptsRemaining int    `json:"attemptsRemaining,omitempty"`
	}

	sessionResponse struct {
		AccessToken string            `json:"accessToken"`
		SessionID   string            `json:"sessionId"`
		ExpiresAt   time.Time         `json:"expiresAt"`
		User        otpbroker.Profile `json:"user"`
	}
)

type authApi struct {
	engine *otpbroker.Engine
}

func registerAuthAPI(g *echo.Group, engine *otpbroker.Engine) {
	api := authApi{engine: engine}
	auth := authRequired(engine)

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/send-otp", api.sendOTP)
	ag.POST("/verify-otp", api.verifyOTP)
	ag.POST("/temp-token", api.tempToken)
	ag.POST("/email-from-token", api.emailFromToken)
	ag.POST("/signup", api.signUp)
	ag.POST("/login", api.login)
	ag.POST("/exchange", api.exchange)

	// authed endpoints
	ag.POST("/logout", api.logout, auth)
	g.GET("/me", api.me, auth)
	g.GET("/admin/security-report", api.securityReport, adminRequired(engine))
}

// bind decodes and validates a JSON body.
func bind(ctx echo.Context, data interface{}) error {
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return ctx.Validate(data)
}

// Handlers

func (api *authApi) sendOTP(ctx echo.Context) error {
	var data emailRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	res, err := api.engine.SendOTP(ctx.Request().Context(), data.Email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resultResponse{Success: res.Success, Message: res.Message})
}

// verifyOTP answers 200 for a wrong code too; success is in the body.
func (api *authApi) verifyOTP(ctx echo.Context) error {
	var data verifyOTPRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	res, err := api.engine.VerifyOTP(ctx.Request().Context(), data.Email, data.OTP)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resultResponse{
		Success:           res.Success,
		Message:           res.Message,
		SignInToken:       res.SignInToken,
		AttemptsRemaining: res.AttemptsRemaining,
	})
}

func (api *authApi) tempToken(ctx echo.Context) error {
	var data emailRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	token, err := api.engine.GenerateTempToken(ctx.Request().Context(), data.Email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"token": token})
}

func (api *authApi) emailFromToken(ctx echo.Context) error {
	var data tokenRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	email, err := api.engine.GetEmailFromToken(ctx.Request().Context(), data.Token)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"email": email})
}

func (api *authApi) signUp(ctx echo.Context) error {
	var data signUpRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	token, err := api.engine.SignUp(ctx.Request().Context(), otpbroker.SignUpRequest{
		Name:     data.Name,
		Email:    data.Email,
		Password: data.Password,
		Role:     otpbroker.Role(data.Role),
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"tempToken": token})
}

func (api *authApi) login(ctx echo.Context) error {
	var data loginRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	token, err := api.engine.Login(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"tempToken": token})
}

func (api *authApi) exchange(ctx echo.Context) error {
	var data tokenRequest
	if err := bind(ctx, &data); err != nil {
		return err
	}

	tokens, err := api.engine.ExchangeSignInToken(ctx.Request().Context(), data.Token)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sessionResponse{
		AccessToken: tokens.AccessToken,
		SessionID:   tokens.SessionID,
		ExpiresAt:   tokens.ExpiresAt,
		User:        tokens.User,
	})
}

func (api *authApi) logout(ctx echo.Context) error {
	res, err := authResult(ctx)
	if err != nil {
		return err
	}
	if err := api.engine.Logout(ctx.Request().Context(), res.SessionID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) me(ctx echo.Context) error {
	res, err := authResult(ctx)
	if err != nil {
		return err
	}
	profile, err := api.engine.Profile(ctx.Request().Context(), res.UserID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *authApi) securityReport(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.engine.SecurityReport())
}
