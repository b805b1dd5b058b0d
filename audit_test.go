package otpbroker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpbroker/internal"
)

type countingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *countingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *countingSink) snapshot() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

// drain closes the engine so every queued event reaches the sink.
func drain(te *testEngine) {
	te.Engine.Close()
}

func eventTypes(events []AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}
	te := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	if _, err := te.SendOTP(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	drain(te)

	if n := len(sink.snapshot()); n != 0 {
		t.Fatalf("expected no events with audit disabled, got %d", n)
	}
	if te.AuditDropped() != 0 {
		t.Fatalf("expected no drops, got %d", te.AuditDropped())
	}
}

func TestAuditOTPLifecycleEvents(t *testing.T) {
	sink := &countingSink{}
	te := buildTestEngine(t, auditConfig(), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := WithClientIP(context.Background(), "198.51.100.33")

	if _, err := te.SendOTP(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := te.lastCode(t, "alice@example.com")
	if _, err := te.VerifyOTP(ctx, "alice@example.com", wrongCode(code)); err != nil {
		t.Fatalf("VerifyOTP mismatch failed: %v", err)
	}
	if _, err := te.VerifyOTP(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	drain(te)

	events := sink.snapshot()
	want := []string{
		auditEventOTPSent,
		auditEventOTPMismatch,
		auditEventOTPVerified,
		auditEventVerifiedWithoutUser,
	}
	if got := eventTypes(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v, want %v", got, want)
	}

	wantHash := internal.KeyHash("alice@example.com")
	for _, ev := range events {
		if ev.EmailHash != wantHash {
			t.Fatalf("%s: expected email hash %q, got %q", ev.EventType, wantHash, ev.EmailHash)
		}
		if ev.IP != "198.51.100.33" {
			t.Fatalf("%s: expected client ip, got %q", ev.EventType, ev.IP)
		}
	}
	if events[1].Error != string(auditErrInvalidOTP) || events[1].Metadata["attempts"] != "1" {
		t.Fatalf("unexpected mismatch event %+v", events[1])
	}
}

func TestAuditRateLimitEvent(t *testing.T) {
	cfg := auditConfig()
	cfg.RateLimit.TempToken = Window{Max: 1, Length: time.Minute}
	sink := &countingSink{}
	te := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	if _, err := te.GenerateTempToken(ctx, "bob@example.com"); err != nil {
		t.Fatalf("GenerateTempToken failed: %v", err)
	}
	if _, err := te.GenerateTempToken(ctx, "bob@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	drain(te)

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	ev := events[1]
	if ev.EventType != auditEventRateLimitTriggered || ev.Success || ev.Error != string(auditErrRateLimited) {
		t.Fatalf("unexpected rate limit event %+v", ev)
	}
	if ev.Metadata["purpose"] != "temp-token-issue" {
		t.Fatalf("unexpected purpose %q", ev.Metadata["purpose"])
	}
	if n := te.MetricsSnapshot().Counters[MetricRateLimitHit]; n != 1 {
		t.Fatalf("expected 1 rate limit hit, got %d", n)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	var buf syncBuffer
	te := buildTestEngine(t, auditConfig(), func(b *Builder) { b.WithAuditSink(NewJSONWriterSink(&buf)) })
	ctx := context.Background()

	const pw = "correct-horse-battery"
	temp, err := te.SignUp(ctx, SignUpRequest{Name: "Carol", Email: "carol@example.com", Password: pw})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := te.SendOTP(ctx, "carol@example.com"); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	code := te.lastCode(t, "carol@example.com")
	res, err := te.VerifyOTP(ctx, "carol@example.com", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	sess, err := te.ExchangeSignInToken(ctx, res.SignInToken)
	if err != nil {
		t.Fatalf("ExchangeSignInToken failed: %v", err)
	}
	drain(te)

	out := buf.String()
	for _, ev := range []string{auditEventSessionCreated, auditEventAccountActivated} {
		if !strings.Contains(out, ev) {
			t.Fatalf("expected %s in audit output", ev)
		}
	}
	for _, secret := range []string{
		pw,
		code,
		temp,
		res.SignInToken,
		sess.AccessToken,
		"carol@example.com",
		te.users.user("carol@example.com").PasswordHash,
	} {
		if strings.Contains(out, secret) {
			t.Fatalf("audit output leaked %q", secret)
		}
	}
}

func TestAuditDefaultsToLogger(t *testing.T) {
	te := buildTestEngine(t, auditConfig())
	if te.audit == nil {
		t.Fatal("expected a dispatcher when audit is enabled without a sink")
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := map[error]AuditErrorCode{
		nil:                                     "",
		ErrInvalidEmail:                         auditErrInvalidInput,
		ErrInvalidOTP:                           auditErrInvalidOTP,
		ErrTokenNotFound:                        auditErrNotFound,
		&RateLimitError{Purpose: "x"}:           auditErrRateLimited,
		ErrInvalidCredentials:                   auditErrInvalidCredentials,
		ErrAccountExists:                        auditErrDuplicate,
		newInternalError("op", ErrInvalidEmail): auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
