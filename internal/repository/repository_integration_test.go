//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chrona-backend/internal/database"
	"chrona-backend/internal/model"
	"chrona-backend/internal/service"
)

type pgEnv struct {
	pool  *pgxpool.Pool
	store service.Store
	now   time.Time
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, url, 16, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))

	return &pgEnv{
		pool:  db.Pool,
		store: NewStore(db.Pool),
		now:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (e *pgEnv) user(t *testing.T, role string) model.User {
	t.Helper()
	u := model.User{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
		Role:         role,
		CreatedAt:    e.now,
		UpdatedAt:    e.now,
	}
	require.NoError(t, e.store.Users.Create(context.Background(), u, model.NewAuditEntry(model.AuditUserCreated, model.RequestMeta{}, e.now)))
	return u
}

func (e *pgEnv) device(t *testing.T, userID string) model.Device {
	t.Helper()
	d := model.Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		Fingerprint:  "fp-" + uuid.NewString(),
		Name:         "Pixel",
		Attestation:  model.NoAttestation(),
		RegisteredAt: e.now,
	}
	require.NoError(t, e.store.Devices.Register(context.Background(), d, model.NewAuditEntry(model.AuditDeviceRegistered, model.RequestMeta{}, e.now)))
	return d
}

func (e *pgEnv) kiosk(t *testing.T) model.Kiosk {
	t.Helper()
	k := model.Kiosk{
		ID:         uuid.NewString(),
		Name:       "kiosk-" + uuid.NewString(),
		Location:   "Lobby",
		AccessMode: model.AccessModePublic,
		IsActive:   true,
		CreatedAt:  e.now,
		UpdatedAt:  e.now,
	}
	require.NoError(t, e.store.Kiosks.Create(context.Background(), k, model.NewAuditEntry(model.AuditKioskCreated, model.RequestMeta{}, e.now)))
	return k
}

// awaitingAttestation creates an HR code and a session that passed OTP.
func (e *pgEnv) awaitingAttestation(t *testing.T, adminID string, email string) (string, string) {
	t.Helper()
	ctx := context.Background()

	code := fmt.Sprintf("EMPL-TEST-%s", uuid.NewString()[:8])
	require.NoError(t, e.store.Onboarding.CreateHRCode(ctx, model.HRCode{
		Code:             code,
		EmployeeEmail:    email,
		CreatedByAdminID: adminID,
		CreatedAt:        e.now,
	}, model.NewAuditEntry(model.AuditHRCodeCreated, model.RequestMeta{}, e.now)))

	hash := "session-" + uuid.NewString()
	require.NoError(t, e.store.Onboarding.CreateSession(ctx, model.OnboardingSession{
		TokenHash:    hash,
		HRCode:       code,
		Email:        email,
		OTPHash:      "otp",
		OTPExpiresAt: e.now.Add(10 * time.Minute),
		State:        model.OnboardingAwaitingAttestation,
		ExpiresAt:    e.now.Add(time.Hour),
		CreatedAt:    e.now,
	}, model.NewAuditEntry(model.AuditOnboardingInitiated, model.RequestMeta{}, e.now)))

	return code, hash
}

func (e *pgEnv) completion(hash string, code string, email string, fingerprint string) model.OnboardingCompletion {
	userID := uuid.NewString()
	return model.OnboardingCompletion{
		SessionTokenHash: hash,
		HRCode:           code,
		User: model.User{
			ID:           userID,
			Email:        email,
			PasswordHash: "x",
			Role:         model.RoleUser,
			CreatedAt:    e.now,
			UpdatedAt:    e.now,
		},
		Device: model.Device{
			ID:           uuid.NewString(),
			UserID:       userID,
			Fingerprint:  fingerprint,
			Name:         "Phone",
			Attestation:  model.NoAttestation(),
			RegisteredAt: e.now,
		},
		RefreshToken: model.RefreshToken{
			TokenHash: "rt-" + uuid.NewString(),
			UserID:    userID,
			CreatedAt: e.now,
			ExpiresAt: e.now.Add(time.Hour),
		},
		CompletedAt: e.now,
	}
}

func TestPunchRepository_ConcurrentRecordHasOneWinner(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	user := env.user(t, model.RoleUser)
	device := env.device(t, user.ID)
	kiosk := env.kiosk(t)
	jti := uuid.NewString()

	const submitters = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		replayed int
		other    []error
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.store.Punches.RecordPunch(ctx, model.Punch{
				ID:        uuid.NewString(),
				UserID:    user.ID,
				DeviceID:  device.ID,
				KioskID:   kiosk.ID,
				PunchType: model.PunchClockIn,
				PunchedAt: env.now,
				JTI:       jti,
			}, model.NewAuditEntry(model.AuditPunchValidated, model.RequestMeta{}, env.now))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, model.ErrTokenAlreadyUsed):
				replayed++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, submitters-1, replayed)

	var punches, ledger int
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT count(*) FROM punches WHERE jti = $1`, jti).Scan(&punches))
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT count(*) FROM consumed_tokens WHERE jti = $1`, jti).Scan(&ledger))
	assert.Equal(t, 1, punches)
	assert.Equal(t, 1, ledger)

	// A loser's transaction leaves no audit entry of its own.
	var validated int
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_logs WHERE event_type = $1 AND device_id = $2`,
		model.AuditPunchValidated, device.ID).Scan(&validated))
	assert.Equal(t, 1, validated)
}

func TestOnboardingRepository_DuplicateFingerprintRollsBack(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	admin := env.user(t, model.RoleAdmin)
	taken := env.device(t, admin.ID)

	email := uuid.NewString() + "@example.com"
	code, hash := env.awaitingAttestation(t, admin.ID, email)
	completion := env.completion(hash, code, email, taken.Fingerprint)

	err := env.store.Onboarding.CompleteOnboarding(ctx, completion, model.NewAuditEntry(model.AuditOnboardingCompleted, model.RequestMeta{}, env.now))
	require.ErrorIs(t, err, model.ErrDuplicateFingerprint)

	_, err = env.store.Users.FindByID(ctx, completion.User.ID)
	require.ErrorIs(t, err, model.ErrUserNotFound)

	hr, err := env.store.Onboarding.FindHRCode(ctx, code)
	require.NoError(t, err)
	assert.False(t, hr.IsUsed)

	session, err := env.store.Onboarding.FindSession(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, model.OnboardingAwaitingAttestation, session.State)
}

func TestOnboardingRepository_ConcurrentCompletionCreatesOneUser(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	admin := env.user(t, model.RoleAdmin)
	email := uuid.NewString() + "@example.com"
	code, hash := env.awaitingAttestation(t, admin.ID, email)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		used      int
		other     []error
	)
	for i := 0; i < attempts; i++ {
		completion := env.completion(hash, code, email, "fp-"+uuid.NewString())
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.store.Onboarding.CompleteOnboarding(ctx, completion, model.NewAuditEntry(model.AuditOnboardingCompleted, model.RequestMeta{}, env.now))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, model.ErrHRCodeUsed):
				used++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, completed)
	assert.Equal(t, attempts-1, used)

	var users int
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE lower(email) = lower($1)`, email).Scan(&users))
	assert.Equal(t, 1, users)

	hr, err := env.store.Onboarding.FindHRCode(ctx, code)
	require.NoError(t, err)
	assert.True(t, hr.IsUsed)
}

func TestAuditRepository_RejectsMutation(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	marker := uuid.NewString()
	entry := model.NewAuditEntry(model.AuditKioskAuthFailed, model.RequestMeta{IP: "192.0.2.1"}, env.now)
	entry.EventData = map[string]any{"marker": marker}
	require.NoError(t, env.store.Audit.Append(ctx, entry))

	var id int64
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT id FROM audit_logs WHERE event_data->>'marker' = $1`, marker).Scan(&id))

	_, err := env.pool.Exec(ctx, `UPDATE audit_logs SET event_type = 'tampered' WHERE id = $1`, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = env.pool.Exec(ctx, `DELETE FROM audit_logs WHERE id = $1`, id)
	require.Error(t, err)

	var eventType string
	require.NoError(t, env.pool.QueryRow(ctx, `SELECT event_type FROM audit_logs WHERE id = $1`, id).Scan(&eventType))
	assert.Equal(t, string(model.AuditKioskAuthFailed), eventType)
}
