package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorderKeepsMessages(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	require.NoError(t, r.Send(ctx, Message{To: "a@example.com", Subject: "one", Text: "1"}))
	require.NoError(t, r.Send(ctx, Message{To: "b@example.com", Subject: "two", Text: "2"}))
	require.NoError(t, r.Send(ctx, Message{To: "a@example.com", Subject: "three", Text: "3"}))

	assert.Len(t, r.Messages(), 3)
	last, ok := r.Last("A@example.com")
	require.True(t, ok)
	assert.Equal(t, "three", last.Subject)

	r.Err = errors.New("smtp down")
	assert.Error(t, r.Send(ctx, Message{To: "c@example.com"}))
	assert.Len(t, r.Messages(), 3)

	r.Reset()
	_, ok = r.Last("a@example.com")
	assert.False(t, ok)
}

func TestConsoleLogsMessage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewConsole(zap.New(core))

	require.NoError(t, c.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "body"}))
	entries := logs.FilterMessage("email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a@example.com", entries[0].ContextMap()["to"])
}

func TestSendGridPostsV3Payload(t *testing.T) {
	var gotAuth string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg, err := NewSendGrid(SendGridConfig{
		APIKey:        "SG.test",
		FromName:      "Broker",
		FromEmail:     "noreply@example.com",
		SubjectPrefix: "[Broker] ",
		Host:          srv.URL,
	})
	require.NoError(t, err)

	err = sg.Send(context.Background(), Message{To: "a@example.com", Subject: "Your code", Text: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer SG.test", gotAuth)

	personalizations, ok := payload["personalizations"].([]any)
	require.True(t, ok)
	require.Len(t, personalizations, 1)
	assert.Equal(t, "[Broker] Your code", personalizations[0].(map[string]any)["subject"])
}

func TestSendGridErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg, err := NewSendGrid(SendGridConfig{APIKey: "bad", FromEmail: "noreply@example.com", Host: srv.URL})
	require.NoError(t, err)

	err = sg.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestNewSendGridRequiresKey(t *testing.T) {
	_, err := NewSendGrid(SendGridConfig{FromEmail: "noreply@example.com"})
	assert.Error(t, err)
}
