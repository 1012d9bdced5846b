package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chrona-backend/internal/model"
)

func TestTokenValidator_PunchLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, _ := env.createKiosk(t, "K1", model.AccessModePublic)
	user := env.createUser(t, "abc123@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-1")

	grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.NoError(t, err)
	assert.Equal(t, int64(30), grant.ExpiresIn)

	result, err := env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
		QRToken:   grant.QRToken,
		KioskID:   kiosk.ID,
		PunchType: model.PunchClockIn,
	}, testMeta)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.PunchID)
	assert.Equal(t, user.ID, result.UserID)
	assert.Equal(t, device.ID, result.DeviceID)
	assert.Equal(t, kiosk.ID, result.KioskID)

	t.Run("same token is refused as a replay", func(t *testing.T) {
		_, err := env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   grant.QRToken,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockOut,
		}, testMeta)
		require.ErrorIs(t, err, model.ErrTokenAlreadyUsed)
		assert.Equal(t, 1, env.countAudit(model.AuditPunchReplayAttempt))
	})

	t.Run("a fresh token punches again after the first expired", func(t *testing.T) {
		env.clock.advance(31 * time.Second)

		next, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
		require.NoError(t, err)

		out, err := env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   next.QRToken,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockOut,
		}, testMeta)
		require.NoError(t, err)
		assert.NotEqual(t, result.PunchID, out.PunchID)
	})

	history, err := env.history.ListForUser(ctx, user.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, history.Total)
	assert.Equal(t, model.PunchClockOut, history.Items[0].PunchType)
	assert.Equal(t, model.PunchClockIn, history.Items[1].PunchType)
	assert.Equal(t, 2, env.countAudit(model.AuditPunchValidated))

	stored, err := env.store.Devices.FindByID(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
}

func TestTokenValidator_ExpiredToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, _ := env.createKiosk(t, "Front door", model.AccessModePublic)
	user := env.createUser(t, "late@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-late")

	grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.NoError(t, err)

	env.clock.advance(31 * time.Second)

	_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
		QRToken:   grant.QRToken,
		KioskID:   kiosk.ID,
		PunchType: model.PunchClockIn,
	}, testMeta)
	require.ErrorIs(t, err, model.ErrTokenExpired)

	entries := env.mem.Audit.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, model.AuditPunchTokenRejected, last.EventType)
	assert.Equal(t, "expired_token", last.EventData["reason"])
	assert.Equal(t, testMeta.IP, last.IPAddress)
}

func TestTokenValidator_TokenJustBeforeExpiryIsAccepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, _ := env.createKiosk(t, "Edge", model.AccessModePublic)
	user := env.createUser(t, "edge@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-edge")

	grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.NoError(t, err)

	env.clock.advance(29 * time.Second)

	_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
		QRToken:   grant.QRToken,
		KioskID:   kiosk.ID,
		PunchType: model.PunchClockIn,
	}, testMeta)
	require.NoError(t, err)
}

func TestTokenValidator_RevokedAfterIssuance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, _ := env.createKiosk(t, "Warehouse", model.AccessModePublic)
	user := env.createUser(t, "revoked@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-revoked")

	grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.NoError(t, err)

	_, err = env.devices.Revoke(ctx, user.ID, model.RoleUser, device.ID, testMeta)
	require.NoError(t, err)

	_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
		QRToken:   grant.QRToken,
		KioskID:   kiosk.ID,
		PunchType: model.PunchClockIn,
	}, testMeta)
	require.ErrorIs(t, err, model.ErrDeviceRevoked)
	assert.Equal(t, 1, env.countAudit(model.AuditPunchRevokedDevice))

	history, err := env.history.ListForUser(ctx, user.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, history.Total)

	_, err = env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.ErrorIs(t, err, model.ErrDeviceRevoked)
}

func TestTokenValidator_ConcurrentSubmissionsHaveOneWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kioskA, _ := env.createKiosk(t, "North", model.AccessModePublic)
	kioskB, _ := env.createKiosk(t, "South", model.AccessModePublic)
	user := env.createUser(t, "racer@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-race")

	grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
	require.NoError(t, err)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for i := 0; i < attempts; i++ {
		kiosk := kioskA
		if i%2 == 1 {
			kiosk = kioskB
		}
		wg.Add(1)
		go func(kiosk model.Kiosk) {
			defer wg.Done()
			_, err := env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
				QRToken:   grant.QRToken,
				KioskID:   kiosk.ID,
				PunchType: model.PunchClockIn,
			}, testMeta)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrTokenAlreadyUsed):
				replays++
			}
		}(kiosk)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, replays)

	history, err := env.history.ListForUser(ctx, user.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total)
}

func TestTokenValidator_Rejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, _ := env.createKiosk(t, "Main", model.AccessModePublic)
	other, _ := env.createKiosk(t, "Annex", model.AccessModePublic)
	user := env.createUser(t, "reject@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-reject")

	t.Run("kiosk id must match the authenticated kiosk", func(t *testing.T) {
		grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
		require.NoError(t, err)

		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   grant.QRToken,
			KioskID:   other.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		require.ErrorIs(t, err, model.ErrKioskMismatch)
		assert.Equal(t, 1, env.countAudit(model.AuditPunchKioskMismatch))

		// The mismatch did not consume the token.
		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   grant.QRToken,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		require.NoError(t, err)
	})

	t.Run("unknown punch type", func(t *testing.T) {
		_, err := env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   "x",
			KioskID:   kiosk.ID,
			PunchType: "lunch",
		}, testMeta)
		require.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		forger, err := NewPunchTokenSigner("another-secret-entirely-0000", 30*time.Second)
		require.NoError(t, err)
		forged, _, err := forger.Sign(user.ID, device.ID, env.clock.now())
		require.NoError(t, err)

		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   forged,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		require.ErrorIs(t, err, model.ErrTokenInvalid)
	})

	t.Run("tampered token", func(t *testing.T) {
		grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
		require.NoError(t, err)

		parts := strings.Split(grant.QRToken, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(sig)
		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   tampered,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		require.ErrorIs(t, err, model.ErrTokenInvalid)
	})

	t.Run("device claim belongs to someone else", func(t *testing.T) {
		intruder := env.createUser(t, "intruder@example.com", "correct-horse", model.RoleUser)
		forged, _, err := env.signer.Sign(intruder.ID, device.ID, env.clock.now())
		require.NoError(t, err)

		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   forged,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		require.ErrorIs(t, err, model.ErrTokenInvalid)
	})
}

func TestTokenValidator_AuthenticateKiosk(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	kiosk, oldKey := env.createKiosk(t, "Rotating", model.AccessModePublic)

	t.Run("missing key is audited", func(t *testing.T) {
		_, err := env.validator.AuthenticateKiosk(ctx, "", testMeta)
		require.ErrorIs(t, err, model.ErrInvalidKioskKey)

		entries := env.mem.Audit.Entries()
		last := entries[len(entries)-1]
		assert.Equal(t, model.AuditKioskAuthFailed, last.EventType)
		assert.Equal(t, "missing_key", last.EventData["reason"])
	})

	t.Run("malformed and unknown keys are rejected alike", func(t *testing.T) {
		_, err := env.validator.AuthenticateKiosk(ctx, "not-a-key", testMeta)
		require.ErrorIs(t, err, model.ErrInvalidKioskKey)

		_, err = env.validator.AuthenticateKiosk(ctx, "kk_000000000000.c2VjcmV0", testMeta)
		require.ErrorIs(t, err, model.ErrInvalidKioskKey)
	})

	t.Run("rotation invalidates the previous key", func(t *testing.T) {
		issued, err := env.kiosks.IssueAPIKey(ctx, "", kiosk.ID, testMeta)
		require.NoError(t, err)

		_, err = env.validator.AuthenticateKiosk(ctx, oldKey, testMeta)
		require.ErrorIs(t, err, model.ErrInvalidKioskKey)

		authed, err := env.validator.AuthenticateKiosk(ctx, issued.APIKey, testMeta)
		require.NoError(t, err)
		assert.Equal(t, kiosk.ID, authed.ID)
	})

	t.Run("deactivated kiosk", func(t *testing.T) {
		issued, err := env.kiosks.IssueAPIKey(ctx, "", kiosk.ID, testMeta)
		require.NoError(t, err)

		inactive := false
		_, err = env.kiosks.Update(ctx, "", kiosk.ID, model.UpdateKioskRequest{IsActive: &inactive}, testMeta)
		require.NoError(t, err)

		_, err = env.validator.AuthenticateKiosk(ctx, issued.APIKey, testMeta)
		require.ErrorIs(t, err, model.ErrKioskInactive)
	})

	assert.GreaterOrEqual(t, env.countAudit(model.AuditKioskAuthFailed), 4)
}

func TestTokenValidator_AccessModes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createUser(t, "admin@example.com", "correct-horse", model.RoleAdmin)
	user := env.createUser(t, "guarded@example.com", "correct-horse", model.RoleUser)
	device := env.registerDevice(t, user.ID, "fp-guarded")

	punch := func(kiosk model.Kiosk) error {
		grant, err := env.issuer.RequestToken(ctx, user.ID, device.ID, testMeta)
		require.NoError(t, err)
		_, err = env.validator.Validate(ctx, kiosk, model.ValidatePunchRequest{
			QRToken:   grant.QRToken,
			KioskID:   kiosk.ID,
			PunchType: model.PunchClockIn,
		}, testMeta)
		return err
	}

	t.Run("whitelist", func(t *testing.T) {
		kiosk, _ := env.createKiosk(t, "Server room", model.AccessModeWhitelist)

		require.ErrorIs(t, punch(kiosk), model.ErrKioskAccessDenied)

		_, err := env.kiosks.GrantAccess(ctx, admin.ID, kiosk.ID, model.KioskAccessRequest{UserID: user.ID}, testMeta)
		require.NoError(t, err)
		require.NoError(t, punch(kiosk))

		require.NoError(t, env.kiosks.RevokeAccess(ctx, admin.ID, kiosk.ID, user.ID, testMeta))
		require.ErrorIs(t, punch(kiosk), model.ErrKioskAccessDenied)
	})

	t.Run("blacklist", func(t *testing.T) {
		kiosk, _ := env.createKiosk(t, "Loading dock", model.AccessModeBlacklist)

		require.NoError(t, punch(kiosk))

		expires := env.clock.now().Add(time.Hour)
		_, err := env.kiosks.BlockAccess(ctx, admin.ID, kiosk.ID, model.KioskAccessRequest{UserID: user.ID, ExpiresAt: &expires}, testMeta)
		require.NoError(t, err)
		require.ErrorIs(t, punch(kiosk), model.ErrKioskAccessDenied)

		env.clock.advance(2 * time.Hour)
		require.NoError(t, punch(kiosk))
	})

	assert.Equal(t, 3, env.countAudit(model.AuditPunchAccessDenied))
}
