package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	StoreDriver string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret          string
	JWTAccessTTL       time.Duration
	JWTRefreshTTL      time.Duration
	PasswordBcryptCost int

	PunchTokenSecret      string
	PunchTokenTTL         time.Duration
	IssueRateBurst        int
	IssueRatePerMinute    int
	ValidateRateBurst     int
	ValidateRatePerMinute int
	RateLimitRPM          int
	AuthRateLimitRPM      int

	KioskOnlineWindow  time.Duration
	KioskKeyBcryptCost int

	OTPLength            int
	OTPTTL               time.Duration
	OTPMaxAttempts       int
	OnboardingSessionTTL time.Duration
	HRCodeTTL            time.Duration
	HRCodePrefix         string

	MailerProvider     string
	MailerWebhookURL   string
	MailerWebhookToken string

	// TrustProxyHeaders honors X-Forwarded-For and X-Real-IP. Enable only
	// behind a proxy that overwrites them.
	TrustProxyHeaders bool

	CORSOrigins []string
	LogFormat   string
	LogLevel    string
	SentryDSN   string
	Environment string

	OTelEndpoint string
	OTelInsecure bool

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 15*time.Second),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 20)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:       getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:      getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		PasswordBcryptCost: getInt("PASSWORD_BCRYPT_COST", 12),

		PunchTokenSecret:      strings.TrimSpace(os.Getenv("PUNCH_TOKEN_SECRET")),
		PunchTokenTTL:         getDuration("PUNCH_TOKEN_TTL", 30*time.Second),
		IssueRateBurst:        getInt("ISSUE_RATE_BURST", 5),
		IssueRatePerMinute:    getInt("ISSUE_RATE_PER_MINUTE", 20),
		ValidateRateBurst:     getInt("VALIDATE_RATE_BURST", 20),
		ValidateRatePerMinute: getInt("VALIDATE_RATE_PER_MINUTE", 120),
		RateLimitRPM:          getInt("RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:      getInt("AUTH_RATE_LIMIT_RPM", 20),

		KioskOnlineWindow:  getDuration("KIOSK_ONLINE_WINDOW", 5*time.Minute),
		KioskKeyBcryptCost: getInt("KIOSK_KEY_BCRYPT_COST", 10),

		OTPLength:            getInt("OTP_LENGTH", 6),
		OTPTTL:               getDuration("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:       getInt("OTP_MAX_ATTEMPTS", 5),
		OnboardingSessionTTL: getDuration("ONBOARDING_SESSION_TTL", 30*time.Minute),
		HRCodeTTL:            getDuration("HR_CODE_TTL", 168*time.Hour),
		HRCodePrefix:         strings.ToUpper(getEnv("HR_CODE_PREFIX", "EMPL")),

		MailerProvider:     strings.ToLower(getEnv("MAILER_PROVIDER", "log")),
		MailerWebhookURL:   strings.TrimSpace(os.Getenv("MAILER_WEBHOOK_URL")),
		MailerWebhookToken: strings.TrimSpace(os.Getenv("MAILER_WEBHOOK_TOKEN")),

		TrustProxyHeaders: getBool("TRUST_PROXY_HEADERS", false),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "*")),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		Environment: getEnv("APP_ENV", "development"),

		OTelEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", false),

		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		CleanupInterval: getDuration("CLEANUP_INTERVAL", 15*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if strings.TrimSpace(c.PunchTokenSecret) == "" {
		return fmt.Errorf("PUNCH_TOKEN_SECRET is required")
	}

	if c.PunchTokenSecret == c.JWTSecret {
		return fmt.Errorf("PUNCH_TOKEN_SECRET must differ from JWT_SECRET")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MAX_CONNS must be positive and not below DB_MIN_CONNS")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.PunchTokenTTL <= 0 || c.PunchTokenTTL > 5*time.Minute {
		return fmt.Errorf("PUNCH_TOKEN_TTL must be between 1s and 5m")
	}

	if c.IssueRateBurst <= 0 || c.IssueRatePerMinute <= 0 {
		return fmt.Errorf("ISSUE_RATE_BURST and ISSUE_RATE_PER_MINUTE must be positive")
	}

	if c.ValidateRateBurst <= 0 || c.ValidateRatePerMinute <= 0 {
		return fmt.Errorf("VALIDATE_RATE_BURST and VALIDATE_RATE_PER_MINUTE must be positive")
	}

	if c.KioskOnlineWindow <= 0 {
		return fmt.Errorf("KIOSK_ONLINE_WINDOW must be positive")
	}

	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}

	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}

	if c.OTPTTL <= 0 || c.OnboardingSessionTTL <= 0 {
		return fmt.Errorf("OTP_TTL and ONBOARDING_SESSION_TTL must be positive")
	}

	switch c.MailerProvider {
	case "log", "noop":
	case "webhook":
		if c.MailerWebhookURL == "" {
			return fmt.Errorf("MAILER_WEBHOOK_URL is required when MAILER_PROVIDER=webhook")
		}
	default:
		return fmt.Errorf("MAILER_PROVIDER %q is not supported", c.MailerProvider)
	}

	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
