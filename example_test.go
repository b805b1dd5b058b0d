package otpbroker_test

import (
	"context"
	"fmt"
	"regexp"

	"github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/mailer"
	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// ExampleNew builds an Engine and walks an email through verification and
// sign-in.
func ExampleNew() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := otpbroker.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("example-signing-key-of-32-bytes!")

	users := userstore.NewMemory()
	mail := mailer.NewRecorder()
	engine, err := otpbroker.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithMailer(mail).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := users.CreateUser(ctx, otpbroker.CreateUserInput{
		Email:  "alice@example.com",
		Name:   "Alice",
		Role:   otpbroker.RoleStudent,
		Status: otpbroker.AccountPendingVerification,
	}); err != nil {
		fmt.Println("create user:", err)
		return
	}

	sent, err := engine.SendOTP(ctx, " Alice@Example.com ")
	if err != nil {
		fmt.Println("send otp:", err)
		return
	}
	fmt.Println(sent.Message)

	msg, ok := mail.Last("alice@example.com")
	if !ok {
		fmt.Println("no mail delivered")
		return
	}
	code := regexp.MustCompile(`\d{6}`).FindString(msg.Text)

	verified, err := engine.VerifyOTP(ctx, "alice@example.com", code)
	if err != nil {
		fmt.Println("verify otp:", err)
		return
	}
	fmt.Println(verified.Message)

	session, err := engine.ExchangeSignInToken(ctx, verified.SignInToken)
	if err != nil {
		fmt.Println("exchange:", otpbroker.CodeOf(err), err)
		return
	}
	fmt.Println(session.User.Email, session.User.Status)

	_, err = engine.ExchangeSignInToken(ctx, verified.SignInToken)
	fmt.Println(otpbroker.CodeOf(err))

	// Output:
	// Verification code sent.
	// Email verified.
	// alice@example.com active
	// NOT_FOUND
}

// ExampleCodeOf maps engine errors to transport codes.
func ExampleCodeOf() {
	var engine *otpbroker.Engine
	_, err := engine.SendOTP(context.Background(), "alice@example.com")
	fmt.Println(otpbroker.CodeOf(err))

	err = &otpbroker.RateLimitError{Purpose: "send-otp"}
	fmt.Println(otpbroker.CodeOf(err), otpbroker.PublicMessage(err))

	// Output:
	// INTERNAL_SERVER_ERROR
	// TOO_MANY_REQUESTS too many send-otp requests, retry in 0s
}
