package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/event"
	"chrona-backend/internal/mailer"
	"chrona-backend/internal/model"
	"chrona-backend/internal/ratelimit"
	"chrona-backend/internal/repository/memory"
)

const (
	testJWTSecret   = "test-jwt-secret-0123456789abcdef"
	testPunchSecret = "test-punch-secret-0123456789abcd"
)

var testMeta = model.RequestMeta{IP: "192.0.2.10", UserAgent: "service-test"}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendOTP(ctx context.Context, msg mailer.OTPMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type testEnv struct {
	mem   *memory.Store
	store Store
	clock *testClock
	bus   *event.InMemoryBus

	audit      *AuditService
	auth       *AuthService
	signer     *PunchTokenSigner
	issuer     *TokenIssuer
	validator  *TokenValidator
	devices    *DeviceService
	kiosks     *KioskService
	onboarding *OnboardingService
	history    *PunchHistoryService
	mailer     *mockMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := memory.New()
	store := Store{
		Users:         mem.Users,
		RefreshTokens: mem.RefreshTokens,
		Devices:       mem.Devices,
		Kiosks:        mem.Kiosks,
		Punches:       mem.Punches,
		Onboarding:    mem.Onboarding,
		Audit:         mem.Audit,
	}

	clock := newTestClock()
	bus := event.NewBus()
	audit := NewAuditService(store.Audit)

	auth, err := NewAuthService(testJWTSecret, 15*time.Minute, 24*time.Hour, bcrypt.MinCost, store.Users, store.RefreshTokens, audit)
	require.NoError(t, err)
	auth.now = clock.now

	signer, err := NewPunchTokenSigner(testPunchSecret, 30*time.Second)
	require.NoError(t, err)

	issuer := NewTokenIssuer(store.Devices, signer, ratelimit.Unlimited{}, audit, bus)
	issuer.now = clock.now

	validator, err := NewTokenValidator(store, signer, ratelimit.Unlimited{}, audit, bus, bcrypt.MinCost)
	require.NoError(t, err)
	validator.now = clock.now

	devices := NewDeviceService(store.Devices, bus)
	devices.now = clock.now

	kiosks := NewKioskService(store.Kiosks, store.Users, bus, bcrypt.MinCost, 5*time.Minute)
	kiosks.now = clock.now

	m := new(mockMailer)
	onboarding := NewOnboardingService(store.Onboarding, store.Users, auth, m, audit, bus, OnboardingOptions{})
	onboarding.now = clock.now

	return &testEnv{
		mem:        mem,
		store:      store,
		clock:      clock,
		bus:        bus,
		audit:      audit,
		auth:       auth,
		signer:     signer,
		issuer:     issuer,
		validator:  validator,
		devices:    devices,
		kiosks:     kiosks,
		onboarding: onboarding,
		history:    NewPunchHistoryService(store.Punches),
		mailer:     m,
	}
}

func (e *testEnv) createUser(t *testing.T, email string, password string, role string) model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	now := e.clock.now()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.store.Users.Create(context.Background(), user, model.NewAuditEntry(model.AuditUserCreated, testMeta, now)))
	return user
}

func (e *testEnv) registerDevice(t *testing.T, userID string, fingerprint string) model.Device {
	t.Helper()

	device, err := e.devices.Register(context.Background(), userID, model.RegisterDeviceRequest{
		DeviceFingerprint: fingerprint,
		DeviceName:        "Pixel 8",
	}, testMeta)
	require.NoError(t, err)
	return device
}

// createKiosk creates a kiosk, issues its key and returns the kiosk as
// the validator sees it after authenticating with that key.
func (e *testEnv) createKiosk(t *testing.T, name string, mode model.KioskAccessMode) (model.Kiosk, string) {
	t.Helper()
	ctx := context.Background()

	kiosk, err := e.kiosks.Create(ctx, "", model.CreateKioskRequest{Name: name, Location: "Lobby", AccessMode: mode}, testMeta)
	require.NoError(t, err)

	issued, err := e.kiosks.IssueAPIKey(ctx, "", kiosk.ID, testMeta)
	require.NoError(t, err)

	authed, err := e.validator.AuthenticateKiosk(ctx, issued.APIKey, testMeta)
	require.NoError(t, err)
	return authed, issued.APIKey
}

func (e *testEnv) auditTypes() []model.AuditEventType {
	entries := e.mem.Audit.Entries()
	types := make([]model.AuditEventType, 0, len(entries))
	for _, entry := range entries {
		types = append(types, entry.EventType)
	}
	return types
}

func (e *testEnv) countAudit(eventType model.AuditEventType) int {
	n := 0
	for _, entry := range e.mem.Audit.Entries() {
		if entry.EventType == eventType {
			n++
		}
	}
	return n
}
