package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_SendOTP(t *testing.T) {
	t.Parallel()

	var (
		gotAuth string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m := NewWebhook(server.URL, "secret-token")
	err := m.SendOTP(context.Background(), OTPMessage{
		To:        "ana@example.com",
		Name:      "Ana",
		Code:      "123456",
		ExpiresAt: time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "onboarding_otp", gotBody["template"])
	assert.Equal(t, "ana@example.com", gotBody["to"])
	assert.Equal(t, "123456", gotBody["code"])
}

func TestWebhook_RejectedByProvider(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhook(server.URL, "").SendOTP(context.Background(), OTPMessage{To: "a@b.c", Code: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNew(t *testing.T) {
	t.Parallel()

	assert.IsType(t, Log{}, New("", "", ""))
	assert.IsType(t, Noop{}, New("noop", "", ""))
	assert.IsType(t, Log{}, New("webhook", "", ""), "webhook without url falls back to log")
	assert.IsType(t, &Webhook{}, New("webhook", "http://mailer.local/send", "t"))
}
