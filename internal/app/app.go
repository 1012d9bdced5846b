package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"chrona-backend/internal/config"
	"chrona-backend/internal/database"
	"chrona-backend/internal/event"
	"chrona-backend/internal/handler"
	"chrona-backend/internal/mailer"
	"chrona-backend/internal/metrics"
	"chrona-backend/internal/middleware"
	"chrona-backend/internal/ratelimit"
	"chrona-backend/internal/repository"
	"chrona-backend/internal/router"
	"chrona-backend/internal/service"
	"chrona-backend/internal/telemetry"
	"chrona-backend/internal/websocket"
)

const serviceName = "chrona-backend"

type App struct {
	server       *http.Server
	cleanupFuncs []func(context.Context)
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.cleanup(context.Background())
		}
	}()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			a.onShutdown(func(context.Context) { sentry.Flush(2 * time.Second) })
		}
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.onShutdown(func(ctx context.Context) {
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	})

	var (
		store      service.Store
		databaseUp handler.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.onShutdown(func(context.Context) { db.Close() })

		if err := db.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		store = repository.NewStore(db.Pool)
		databaseUp = db.Health
		slog.Info("database ready")
	}

	redisClient := connectRedis(ctx, cfg)
	var redisUp handler.Pinger
	if redisClient != nil {
		a.onShutdown(func(context.Context) { _ = redisClient.Close() })
		redisUp = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	limiter := func(prefix string, policy ratelimit.Policy) ratelimit.Limiter {
		if redisClient != nil {
			return ratelimit.NewRedis(redisClient, "chrona:rl:"+prefix, policy)
		}
		return ratelimit.NewLocal(policy)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.onShutdown(func(context.Context) { bgCancel() })

	bus := event.NewBus()
	hub := websocket.NewHub(bus)
	go hub.Run(bgCtx)

	collectors := metrics.New()
	collectors.Start(bgCtx, bus)

	auditService := service.NewAuditService(store.Audit)

	authService, err := service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, cfg.PasswordBcryptCost, store.Users, store.RefreshTokens, auditService)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	if cfg.BootstrapAdminEmail != "" {
		if err := authService.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	signer, err := service.NewPunchTokenSigner(cfg.PunchTokenSecret, cfg.PunchTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize punch token signer: %w", err)
	}

	issuer := service.NewTokenIssuer(store.Devices, signer, limiter("issue", ratelimit.Policy{
		Burst:       cfg.IssueRateBurst,
		BurstWindow: 10 * time.Second,
		PerMinute:   cfg.IssueRatePerMinute,
	}), auditService, bus)

	validator, err := service.NewTokenValidator(store, signer, limiter("validate", ratelimit.Policy{
		Burst:       cfg.ValidateRateBurst,
		BurstWindow: 10 * time.Second,
		PerMinute:   cfg.ValidateRatePerMinute,
	}), auditService, bus, cfg.KioskKeyBcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token validator: %w", err)
	}

	deviceService := service.NewDeviceService(store.Devices, bus)
	kioskService := service.NewKioskService(store.Kiosks, store.Users, bus, cfg.KioskKeyBcryptCost, cfg.KioskOnlineWindow)
	onboardingService := service.NewOnboardingService(store.Onboarding, store.Users, authService,
		mailer.New(cfg.MailerProvider, cfg.MailerWebhookURL, cfg.MailerWebhookToken),
		auditService, bus, service.OnboardingOptions{
			OTPLength:      cfg.OTPLength,
			OTPTTL:         cfg.OTPTTL,
			OTPMaxAttempts: cfg.OTPMaxAttempts,
			SessionTTL:     cfg.OnboardingSessionTTL,
			HRCodeTTL:      cfg.HRCodeTTL,
			HRCodePrefix:   cfg.HRCodePrefix,
		})

	cleanupService := service.NewCleanupService(store.RefreshTokens, store.Onboarding)
	go cleanupService.StartCleanupTicker(bgCtx, cfg.CleanupInterval)

	appRouter := router.New(cfg, router.Dependencies{
		Auth:           middleware.NewAuthMiddleware(authService),
		Kiosks:         validator,
		GeneralLimiter: limiter("http", ratelimit.Policy{PerMinute: cfg.RateLimitRPM}),
		AuthLimiter:    limiter("http-auth", ratelimit.Policy{PerMinute: cfg.AuthRateLimitRPM}),
		Metrics:        collectors,
	}, router.Handlers{
		Auth:       handler.NewAuthHandler(authService),
		User:       handler.NewUserHandler(authService),
		Audit:      handler.NewAuditHandler(auditService),
		Punch:      handler.NewPunchHandler(issuer, validator, service.NewPunchHistoryService(store.Punches)),
		Device:     handler.NewDeviceHandler(deviceService),
		Kiosk:      handler.NewKioskHandler(kioskService),
		Onboarding: handler.NewOnboardingHandler(onboardingService),
		Health:     handler.NewHealthHandler(databaseUp, redisUp),
		Events:     handler.NewEventsHandler(hub),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	ok = true
	return a, nil
}

// connectRedis returns nil when REDIS_ADDR is unset or unreachable. The
// limiters then keep per-process budgets.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set; rate limits are per instance")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		slog.Warn("redis unreachable; falling back to per-instance rate limits", "addr", cfg.RedisAddr, "error", err)
		return nil
	}

	slog.Info("redis connected", "addr", cfg.RedisAddr)
	return client
}

func (a *App) onShutdown(fn func(context.Context)) {
	a.cleanupFuncs = append(a.cleanupFuncs, fn)
}

// cleanup runs shutdown hooks in reverse registration order.
func (a *App) cleanup(ctx context.Context) {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i](ctx)
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		a.cleanup(context.Background())
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup(ctx)

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
