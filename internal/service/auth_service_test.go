package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/model"
)

func TestAuthService_Login(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, "login@example.com", "correct-horse", model.RoleUser)

	pair, err := env.auth.Login(ctx, "LOGIN@example.com", "correct-horse", testMeta)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, user.ID, pair.User.ID)

	claims, err := env.auth.ValidateToken(pair.AccessToken, tokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, model.RoleUser, claims.Role)

	_, err = env.auth.ValidateToken(pair.RefreshToken, tokenTypeAccess)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = env.auth.Login(ctx, "login@example.com", "wrong-password", testMeta)
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "nobody@example.com", "correct-horse", testMeta)
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "", "", testMeta)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Equal(t, 1, env.countAudit(model.AuditUserLogin))
	assert.Equal(t, 2, env.countAudit(model.AuditUserLoginFailed))
}

func TestAuthService_AccessTokenExpires(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.createUser(t, "ttl@example.com", "correct-horse", model.RoleUser)
	pair, err := env.auth.Login(context.Background(), "ttl@example.com", "correct-horse", testMeta)
	require.NoError(t, err)

	env.clock.advance(16 * time.Minute)
	_, err = env.auth.ValidateToken(pair.AccessToken, tokenTypeAccess)
	require.ErrorIs(t, err, model.ErrTokenNotFound)
}

func TestAuthService_RefreshRotation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createUser(t, "rotate@example.com", "correct-horse", model.RoleUser)
	first, err := env.auth.Login(ctx, "rotate@example.com", "correct-horse", testMeta)
	require.NoError(t, err)

	second, err := env.auth.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = env.auth.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenNotFound)

	_, err = env.auth.Refresh(ctx, second.AccessToken)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	require.NoError(t, env.auth.Logout(ctx, second.RefreshToken))
	_, err = env.auth.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenNotFound)
}

func TestAuthService_SetRoleAndBootstrap(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.auth.EnsureBootstrapAdmin(ctx, "Root@Example.com", "bootstrap-pass"))
	require.NoError(t, env.auth.EnsureBootstrapAdmin(ctx, "second@example.com", "bootstrap-pass"))

	count, err := env.store.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	admin, err := env.store.Users.FindByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("bootstrap-pass")))

	user := env.createUser(t, "promote@example.com", "correct-horse", model.RoleUser)

	updated, err := env.auth.SetRole(ctx, admin.ID, user.ID, " ADMIN ", testMeta)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, updated.Role)

	_, err = env.auth.SetRole(ctx, admin.ID, user.ID, "superuser", testMeta)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = env.auth.SetRole(ctx, admin.ID, "00000000-0000-0000-0000-000000000000", model.RoleUser, testMeta)
	require.ErrorIs(t, err, model.ErrUserNotFound)

	public, err := env.auth.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, public.Role)
	assert.Equal(t, 1, env.countAudit(model.AuditUserRoleChanged))
}

func TestAuthService_HashPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.auth.HashPassword("short")
	require.ErrorIs(t, err, model.ErrInvalidInput)

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'x'
	}
	_, err = env.auth.HashPassword(string(long))
	require.ErrorIs(t, err, model.ErrInvalidInput)

	hash, err := env.auth.HashPassword("long-enough")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("long-enough")))
}

func TestCleanupService_CleanupExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createUser(t, "sweep@example.com", "correct-horse", model.RoleUser)
	pair, err := env.auth.Login(ctx, "sweep@example.com", "correct-horse", testMeta)
	require.NoError(t, err)

	cleanup := NewCleanupService(env.store.RefreshTokens, env.store.Onboarding)
	cleanup.now = func() time.Time { return env.clock.now().Add(25 * time.Hour) }
	cleanup.CleanupExpired(ctx)

	_, err = env.store.RefreshTokens.Consume(ctx, hashToken(pair.RefreshToken), env.clock.now())
	require.ErrorIs(t, err, model.ErrTokenNotFound)
}

func TestAuditService_Query(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, "audited@example.com", "correct-horse", model.RoleUser)
	for i := 0; i < 3; i++ {
		env.clock.advance(time.Minute)
		entry := model.NewAuditEntry(model.AuditUserLoginFailed, testMeta, env.clock.now())
		entry.UserID = user.ID
		env.audit.Record(ctx, entry)
	}

	items, meta, err := env.audit.Query(ctx, model.AuditQuery{EventType: string(model.AuditUserLoginFailed), Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 3, meta.Total)
	assert.Equal(t, 2, meta.TotalPages)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	items, _, err = env.audit.Query(ctx, model.AuditQuery{UserID: user.ID, From: env.clock.now().Add(-90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, _, err = env.audit.Query(ctx, model.AuditQuery{KioskID: "kiosk-1"})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, _, err = env.audit.Query(ctx, model.AuditQuery{From: env.clock.now(), To: env.clock.now().Add(-time.Hour)})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
