package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chrona-backend/internal/model"
)

func TestPunchStore_RecordPunchConsumesJTIOnce(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Devices.Register(ctx, model.Device{ID: "d1", UserID: "u1", Fingerprint: "fp"}, model.AuditLogEntry{EventType: model.AuditDeviceRegistered}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		replayed int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Punches.RecordPunch(ctx, model.Punch{
				ID:        fmt.Sprintf("p%d", i),
				UserID:    "u1",
				DeviceID:  "d1",
				KioskID:   "k1",
				PunchType: model.PunchClockIn,
				PunchedAt: now,
				JTI:       "jti-1",
			}, model.AuditLogEntry{EventType: model.AuditPunchValidated, CreatedAt: now})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if errors.Is(err, model.ErrTokenAlreadyUsed) {
				replayed++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 31, replayed)

	punches, total, err := store.Punches.ListForUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, punches, 1)

	device, err := store.Devices.FindByID(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, device.LastSeenAt)
	assert.True(t, now.Equal(*device.LastSeenAt))

	// One registration plus one validated punch.
	assert.Len(t, store.Audit.Entries(), 2)
}

func TestPunchStore_ListForUserPaginates(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Punches.RecordPunch(ctx, model.Punch{
			ID:        fmt.Sprintf("p%d", i),
			UserID:    "u1",
			PunchedAt: base.Add(time.Duration(i) * time.Hour),
			JTI:       fmt.Sprintf("jti-%d", i),
		}, model.AuditLogEntry{}))
	}

	page, total, err := store.Punches.ListForUser(ctx, "u1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "p3", page[0].ID)
	assert.Equal(t, "p2", page[1].ID)

	empty, _, err := store.Punches.ListForUser(ctx, "u1", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOnboardingStore_CompleteOnboardingIsAllOrNothing(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Devices.Register(ctx, model.Device{ID: "taken", UserID: "someone", Fingerprint: "fp-taken"}, model.AuditLogEntry{}))
	require.NoError(t, store.Onboarding.CreateHRCode(ctx, model.HRCode{Code: "EMPL-2026-AAAAA", EmployeeEmail: "new@example.com", CreatedAt: now}, model.AuditLogEntry{}))
	require.NoError(t, store.Onboarding.CreateSession(ctx, model.OnboardingSession{
		TokenHash: "session-hash",
		HRCode:    "EMPL-2026-AAAAA",
		Email:     "new@example.com",
		State:     model.OnboardingAwaitingAttestation,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}, model.AuditLogEntry{}))

	completion := model.OnboardingCompletion{
		SessionTokenHash: "session-hash",
		HRCode:           "EMPL-2026-AAAAA",
		User:             model.User{ID: "u-new", Email: "new@example.com", Role: model.RoleUser},
		Device:           model.Device{ID: "d-new", UserID: "u-new", Fingerprint: "fp-taken"},
		RefreshToken:     model.RefreshToken{TokenHash: "rt", UserID: "u-new", ExpiresAt: now.Add(time.Hour)},
		CompletedAt:      now,
	}

	err := store.Onboarding.CompleteOnboarding(ctx, completion, model.AuditLogEntry{EventType: model.AuditOnboardingCompleted})
	require.ErrorIs(t, err, model.ErrDuplicateFingerprint)

	_, err = store.Users.FindByID(ctx, "u-new")
	require.ErrorIs(t, err, model.ErrUserNotFound)
	code, err := store.Onboarding.FindHRCode(ctx, "EMPL-2026-AAAAA")
	require.NoError(t, err)
	assert.False(t, code.IsUsed)

	completion.Device.Fingerprint = "fp-new"
	require.NoError(t, store.Onboarding.CompleteOnboarding(ctx, completion, model.AuditLogEntry{EventType: model.AuditOnboardingCompleted}))

	err = store.Onboarding.CompleteOnboarding(ctx, completion, model.AuditLogEntry{EventType: model.AuditOnboardingCompleted})
	require.ErrorIs(t, err, model.ErrHRCodeUsed)

	owner, err := store.RefreshTokens.Consume(ctx, "rt", now)
	require.NoError(t, err)
	assert.Equal(t, "u-new", owner)
}

func TestOnboardingStore_RecordOTPAttempt(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Onboarding.CreateSession(ctx, model.OnboardingSession{
		TokenHash: "h",
		Email:     "otp@example.com",
		State:     model.OnboardingAwaitingOTP,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}, model.AuditLogEntry{}))

	for i := 1; i <= 3; i++ {
		session, err := store.Onboarding.RecordOTPAttempt(ctx, "h", 3, now)
		require.NoError(t, err)
		assert.Equal(t, i, session.OTPAttempts)
	}

	_, err := store.Onboarding.RecordOTPAttempt(ctx, "h", 3, now)
	require.ErrorIs(t, err, model.ErrOTPAttemptsExceeded)

	_, err = store.Onboarding.RecordOTPAttempt(ctx, "missing", 3, now)
	require.ErrorIs(t, err, model.ErrSessionInvalid)
}

func TestAuditStore_AssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	store := New()
	ctx := context.Background()

	data := map[string]any{"reason": "first"}
	require.NoError(t, store.Audit.Append(ctx, model.AuditLogEntry{EventType: model.AuditKioskAuthFailed, EventData: data}))
	require.NoError(t, store.Audit.Append(ctx, model.AuditLogEntry{EventType: model.AuditKioskAuthFailed}))

	// Mutating the caller's map must not rewrite history.
	data["reason"] = "changed"

	entries := store.Audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(2), entries[1].ID)
	assert.Equal(t, "first", entries[0].EventData["reason"])
}
