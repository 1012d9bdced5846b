package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chrona-backend/internal/config"
	"chrona-backend/internal/handler"
	"chrona-backend/internal/metrics"
	"chrona-backend/internal/middleware"
	"chrona-backend/internal/model"
	"chrona-backend/internal/ratelimit"
	"chrona-backend/internal/service"
)

type Handlers struct {
	Auth       *handler.AuthHandler
	User       *handler.UserHandler
	Audit      *handler.AuditHandler
	Punch      *handler.PunchHandler
	Device     *handler.DeviceHandler
	Kiosk      *handler.KioskHandler
	Onboarding *handler.OnboardingHandler
	Health     *handler.HealthHandler
	Events     *handler.EventsHandler
}

type Dependencies struct {
	Auth           *middleware.AuthMiddleware
	Kiosks         *service.TokenValidator
	GeneralLimiter ratelimit.Limiter
	AuthLimiter    ratelimit.Limiter
	Metrics        *metrics.Metrics
}

func New(cfg *config.Config, deps Dependencies, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(deps.GeneralLimiter, deps.AuthLimiter)

	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Recovery)
	r.Use(middleware.Sentry)
	if deps.Metrics != nil {
		r.Use(middleware.Logging(deps.Metrics))
	} else {
		r.Use(middleware.Logging(nil))
	}
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	requireUser := deps.Auth.RequireAuth
	requireAdmin := deps.Auth.RequireRoles(model.RoleAdmin)
	requireKiosk := middleware.RequireKiosk(deps.Kiosks)

	r.Route("/api/v1", func(api chi.Router) {
		// The websocket feed is long-lived, so it sits outside the timeout group.
		api.With(requireUser, requireAdmin).Get("/admin/events", h.Events.Stream)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Post("/auth/login", h.Auth.Login)
			api.Post("/auth/refresh", h.Auth.Refresh)
			api.With(requireUser).Post("/auth/logout", h.Auth.Logout)
			api.With(requireUser).Get("/auth/me", h.Auth.Me)

			api.Post("/onboarding/initiate", h.Onboarding.Initiate)
			api.Post("/onboarding/verify-otp", h.Onboarding.VerifyOTP)
			api.Post("/onboarding/complete", h.Onboarding.Complete)

			api.Group(func(user chi.Router) {
				user.Use(requireUser)

				user.Post("/punch/request-token", h.Punch.RequestToken)
				user.Get("/punch/history", h.Punch.History)

				user.Post("/devices/register", h.Device.Register)
				user.Get("/devices/me", h.Device.ListMine)
				user.Post("/devices/{id}/revoke", h.Device.Revoke)
			})

			api.Get("/kiosk/identify", h.Kiosk.Identify)
			api.Group(func(kiosk chi.Router) {
				kiosk.Use(requireKiosk)

				kiosk.Post("/punch/validate", h.Punch.Validate)
				kiosk.Post("/kiosk/heartbeat", h.Kiosk.Heartbeat)
				kiosk.Get("/kiosk/status", h.Kiosk.Status)
			})

			api.Group(func(admin chi.Router) {
				admin.Use(requireUser, requireAdmin)

				admin.Get("/admin/kiosks", h.Kiosk.List)
				admin.Post("/admin/kiosks", h.Kiosk.Create)
				admin.Patch("/admin/kiosks/{id}", h.Kiosk.Update)
				admin.Post("/admin/kiosks/{id}/generate-api-key", h.Kiosk.GenerateAPIKey)
				admin.Get("/admin/kiosks/{id}/access", h.Kiosk.Access)
				admin.Patch("/admin/kiosks/{id}/access-mode", h.Kiosk.SetAccessMode)
				admin.Post("/admin/kiosks/{id}/grant-access", h.Kiosk.GrantAccess)
				admin.Post("/admin/kiosks/{id}/block-access", h.Kiosk.BlockAccess)
				admin.Delete("/admin/kiosks/{id}/access/{user_id}", h.Kiosk.RevokeAccess)

				admin.Get("/admin/devices", h.Device.List)

				admin.Post("/admin/hr-codes", h.Onboarding.CreateHRCode)
				admin.Get("/admin/hr-codes", h.Onboarding.ListHRCodes)

				admin.Patch("/admin/users/{id}/role", h.User.UpdateRole)
				admin.Get("/admin/audit", h.Audit.List)
			})
		})
	})

	return otelhttp.NewHandler(r, "chrona-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/health" && req.URL.Path != "/metrics"
		}),
	)
}
