package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chrona-backend/internal/model"
)

type stubValidator struct {
	claims *model.AuthClaims
}

func (s stubValidator) ValidateToken(token string, expectedType string) (*model.AuthClaims, error) {
	if token != "good" || expectedType != "access" {
		return nil, model.ErrTokenNotFound
	}
	return s.claims, nil
}

type stubKioskAuth struct {
	mu   sync.Mutex
	seen []string
}

func (s *stubKioskAuth) AuthenticateKiosk(_ context.Context, key string, meta model.RequestMeta) (model.Kiosk, error) {
	s.mu.Lock()
	s.seen = append(s.seen, key)
	s.mu.Unlock()

	switch key {
	case "kk_valid.secret":
		return model.Kiosk{ID: "k1", Name: "Lobby", IsActive: true}, nil
	case "kk_off.secret":
		return model.Kiosk{}, model.ErrKioskInactive
	default:
		return model.Kiosk{}, model.ErrInvalidKioskKey
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	mw := NewAuthMiddleware(stubValidator{claims: &model.AuthClaims{UserID: "u1", Role: model.RoleUser}})
	protected := mw.RequireAuth(mw.RequireRoles(model.RoleAdmin)(okHandler()))
	userOnly := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "u1", claims.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name    string
		header  string
		handler http.Handler
		status  int
	}{
		{"missing header", "", userOnly, http.StatusUnauthorized},
		{"wrong scheme", "Basic good", userOnly, http.StatusUnauthorized},
		{"bad token", "Bearer nope", userOnly, http.StatusUnauthorized},
		{"valid token", "bearer good", userOnly, http.StatusNoContent},
		{"role mismatch", "Bearer good", protected, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			tc.handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRequireKiosk(t *testing.T) {
	t.Parallel()

	auth := &stubKioskAuth{}
	handler := RequireKiosk(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kiosk, ok := KioskFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "k1", kiosk.ID)
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]int{
		"":                http.StatusUnauthorized,
		"kk_valid.secret": http.StatusOK,
		"kk_off.secret":   http.StatusForbidden,
		"kk_bad.secret":   http.StatusUnauthorized,
	}

	for key, status := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/kiosk/heartbeat", nil)
		if key != "" {
			req.Header.Set(KioskKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, status, rec.Code, "key %q", key)
	}

	// Every attempt reaches the authenticator, including the missing header.
	assert.ElementsMatch(t, []string{"", "kk_valid.secret", "kk_off.secret", "kk_bad.secret"}, auth.seen)
}

func TestRecoveryAndSecurityHeaders(t *testing.T) {
	t.Parallel()

	handler := Recovery(SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Body.String(), `"code":"INTERNAL_ERROR"`)
}
