package middleware

import (
	"net/http"
	"strings"

	"chrona-backend/internal/model"
	"chrona-backend/internal/ratelimit"
)

// RateLimitMiddleware applies a per-IP budget to every API request. Login,
// refresh and onboarding share a tighter budget since they are the
// unauthenticated guessing surface.
type RateLimitMiddleware struct {
	general ratelimit.Limiter
	auth    ratelimit.Limiter
}

func NewRateLimitMiddleware(general ratelimit.Limiter, auth ratelimit.Limiter) *RateLimitMiddleware {
	if general == nil {
		general = ratelimit.Unlimited{}
	}
	if auth == nil {
		auth = ratelimit.Unlimited{}
	}
	return &RateLimitMiddleware{general: general, auth: auth}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.ToLower(r.URL.Path)
		if !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		limiter, scope := m.general, "http"
		if strings.HasPrefix(path, "/api/v1/auth") || strings.HasPrefix(path, "/api/v1/onboarding") {
			limiter, scope = m.auth, "http-auth"
		}

		decision := ratelimit.FailOpen(r.Context(), limiter, scope+":"+ClientIP(r))
		if !decision.Allowed {
			writeAPIError(w, model.ErrRateLimited.WithRetryAfter(decision.RetryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}
