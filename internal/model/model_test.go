package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttestation(t *testing.T) {
	t.Parallel()

	t.Run("absent or null is none", func(t *testing.T) {
		for _, raw := range []string{"", "null", "  ", `""`} {
			att, err := ParseAttestation(json.RawMessage(raw))
			require.NoError(t, err)
			assert.Equal(t, AttestationNone, att.Scheme)
		}
	})

	t.Run("legacy string is kept opaque", func(t *testing.T) {
		att, err := ParseAttestation(json.RawMessage(`"android-safetynet-blob"`))
		require.NoError(t, err)
		assert.Equal(t, AttestationOpaque, att.Scheme)
		assert.JSONEq(t, `"android-safetynet-blob"`, string(att.Opaque))
	})

	t.Run("play integrity requires a token", func(t *testing.T) {
		att, err := ParseAttestation(json.RawMessage(`{"scheme":"play_integrity","play_integrity":{"integrity_token":"tok","package_name":"app.chrona"}}`))
		require.NoError(t, err)
		assert.Equal(t, AttestationPlayIntegrity, att.Scheme)
		assert.Equal(t, "tok", att.PlayIntegrity.IntegrityToken)

		_, err = ParseAttestation(json.RawMessage(`{"scheme":"play_integrity"}`))
		assert.True(t, errors.Is(err, ErrInvalidAttestation))
	})

	t.Run("app attest requires key and attestation", func(t *testing.T) {
		_, err := ParseAttestation(json.RawMessage(`{"scheme":"app_attest","app_attest":{"key_id":"k"}}`))
		assert.ErrorIs(t, err, ErrInvalidAttestation)

		att, err := ParseAttestation(json.RawMessage(`{"scheme":"app_attest","app_attest":{"key_id":"k","attestation":"a"}}`))
		require.NoError(t, err)
		assert.Equal(t, AttestationAppAttest, att.Scheme)
	})

	t.Run("untagged object falls back to opaque", func(t *testing.T) {
		att, err := ParseAttestation(json.RawMessage(`{"vendor":"acme","score":0.9}`))
		require.NoError(t, err)
		assert.Equal(t, AttestationOpaque, att.Scheme)
		assert.JSONEq(t, `{"vendor":"acme","score":0.9}`, string(att.Opaque))
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		_, err := ParseAttestation(json.RawMessage(`{"scheme":`))
		assert.ErrorIs(t, err, ErrInvalidAttestation)
	})
}

func TestKioskStatusAt(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	kiosk := Kiosk{ID: "k1", LastHeartbeatAt: &base}

	online := kiosk.StatusAt(base.Add(4*time.Minute), 5*time.Minute)
	assert.True(t, online.IsOnline)
	assert.Nil(t, online.OfflineDurationSeconds)

	boundary := kiosk.StatusAt(base.Add(5*time.Minute), 5*time.Minute)
	assert.True(t, boundary.IsOnline)

	offline := kiosk.StatusAt(base.Add(6*time.Minute), 5*time.Minute)
	assert.False(t, offline.IsOnline)
	require.NotNil(t, offline.OfflineDurationSeconds)
	assert.Equal(t, int64(360), *offline.OfflineDurationSeconds)

	never := Kiosk{ID: "k2"}.StatusAt(base, 5*time.Minute)
	assert.False(t, never.IsOnline)
	assert.Nil(t, never.OfflineDurationSeconds)
}

func TestAccessAllowed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	granted := &KioskAccessEntry{Access: AccessGranted}
	expiredGrant := &KioskAccessEntry{Access: AccessGranted, ExpiresAt: &past}
	blocked := &KioskAccessEntry{Access: AccessBlocked}

	tests := []struct {
		name  string
		mode  KioskAccessMode
		entry *KioskAccessEntry
		want  bool
	}{
		{"public ignores blocks", AccessModePublic, blocked, true},
		{"whitelist without entry", AccessModeWhitelist, nil, false},
		{"whitelist with grant", AccessModeWhitelist, granted, true},
		{"whitelist with expired grant", AccessModeWhitelist, expiredGrant, false},
		{"blacklist without entry", AccessModeBlacklist, nil, true},
		{"blacklist with block", AccessModeBlacklist, blocked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AccessAllowed(tt.mode, tt.entry, now))
		})
	}
}

func TestOnboardingTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(OnboardingAwaitingOTP, OnboardingAwaitingAttestation))
	assert.True(t, CanTransition(OnboardingAwaitingAttestation, OnboardingCompleted))
	assert.True(t, CanTransition(OnboardingAwaitingOTP, OnboardingInvalidated))
	assert.False(t, CanTransition(OnboardingAwaitingOTP, OnboardingCompleted))
	assert.False(t, CanTransition(OnboardingCompleted, OnboardingAwaitingOTP))
	assert.False(t, CanTransition(OnboardingInvalidated, OnboardingAwaitingAttestation))
}
