// Package mailer delivers onboarding one-time passwords.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type OTPMessage struct {
	To        string    `json:"to"`
	Name      string    `json:"name,omitempty"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Mailer interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// New picks a provider by name. Unknown names fall back to the log provider.
func New(provider string, webhookURL string, webhookToken string) Mailer {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "noop":
		return Noop{}
	case "webhook":
		if webhookURL == "" {
			return Log{}
		}
		return NewWebhook(webhookURL, webhookToken)
	default:
		return Log{}
	}
}

// Log writes the message to the structured log. Development only: the
// OTP appears in plain text.
type Log struct{}

func (Log) SendOTP(_ context.Context, msg OTPMessage) error {
	slog.Info("onboarding otp", "to", msg.To, "code", msg.Code, "expires_at", msg.ExpiresAt)
	return nil
}

type Noop struct{}

func (Noop) SendOTP(context.Context, OTPMessage) error {
	return nil
}

// Webhook POSTs the message as JSON to an external delivery service.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(url string, token string) *Webhook {
	return &Webhook{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) SendOTP(ctx context.Context, msg OTPMessage) error {
	body, err := json.Marshal(struct {
		Template string `json:"template"`
		OTPMessage
	}{Template: "onboarding_otp", OTPMessage: msg})
	if err != nil {
		return fmt.Errorf("marshal otp message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build otp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver otp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver otp: provider answered %d", resp.StatusCode)
	}
	return nil
}
