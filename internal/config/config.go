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
	defaultAppName        = "Photogram"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 30 * 24 * time.Hour
	defaultCodeTTL        = 5 * time.Minute
	defaultCodeLength     = 6
	defaultLoginRate      = 5
	defaultResetRate      = 5
	defaultCodeAttempts   = 5
	defaultDispatchQueue  = "memory"
	defaultKafkaTopic     = "photogram.accounts"
	defaultMediaDir       = "./media"
	defaultPhoneRegion    = "UZ"
	defaultBlacklist      = "postgres"
	devSecret             = "dev-secret-change-me"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	// LogFormat is "json" or "text".
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// BlacklistBackend selects where revoked refresh tokens live:
	// "postgres" or "redis".
	BlacklistBackend string

	CodeTTL         time.Duration
	CodeLength      int
	// CodeMaxAttempts is how many wrong values lock an active code.
	CodeMaxAttempts int
	LoginRatePerMin int
	// ResetRatePerMin throttles forget/reset password per contact.
	ResetRatePerMin int
	PhoneRegion     string

	// DispatchQueue is "memory" or "redis".
	DispatchQueue       string
	DispatchWorkers     int
	DispatchMaxAttempts int
	DispatchBackoff     time.Duration
	DispatchRate        float64

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	BrevoAPIKey      string
	BrevoSenderEmail string
	BrevoSenderName  string

	KafkaBrokers []string
	KafkaTopic   string

	MediaDir string
	S3Bucket string
	S3Region string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		RefreshSecret:    os.Getenv("REFRESH_SECRET"),
		BlacklistBackend: strings.ToLower(getEnv("BLACKLIST_BACKEND", defaultBlacklist)),
		PhoneRegion:      strings.ToUpper(getEnv("PHONE_REGION", defaultPhoneRegion)),
		DispatchQueue:    strings.ToLower(getEnv("DISPATCH_QUEUE", defaultDispatchQueue)),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),
		BrevoAPIKey:      os.Getenv("BREVO_API_KEY"),
		BrevoSenderEmail: os.Getenv("BREVO_SENDER_EMAIL"),
		BrevoSenderName:  getEnv("BREVO_SENDER_NAME", defaultAppName),
		KafkaTopic:       getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		MediaDir:         getEnv("MEDIA_DIR", defaultMediaDir),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         os.Getenv("S3_REGION"),
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.ShutdownPeriod, err = getSecondsOrDuration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getSecondsOrDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", defaultAccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", defaultRefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.CodeTTL, err = getDuration("CODE_TTL", defaultCodeTTL); err != nil {
		return Config{}, err
	}
	if cfg.DispatchBackoff, err = getDuration("DISPATCH_BACKOFF", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.CodeLength, err = getInt("CODE_LENGTH", defaultCodeLength); err != nil {
		return Config{}, err
	}
	if cfg.LoginRatePerMin, err = getInt("LOGIN_RATE_PER_MIN", defaultLoginRate); err != nil {
		return Config{}, err
	}
	if cfg.ResetRatePerMin, err = getInt("RESET_RATE_PER_MIN", defaultResetRate); err != nil {
		return Config{}, err
	}
	if cfg.CodeMaxAttempts, err = getInt("CODE_MAX_ATTEMPTS", defaultCodeAttempts); err != nil {
		return Config{}, err
	}
	if cfg.DispatchWorkers, err = getInt("DISPATCH_WORKERS", 2); err != nil {
		return Config{}, err
	}
	if cfg.DispatchMaxAttempts, err = getInt("DISPATCH_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DISPATCH_RATE"); v != "" {
		if cfg.DispatchRate, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("invalid DISPATCH_RATE: %w", err)
		}
	}

	if cfg.CodeLength < 4 || cfg.CodeLength > 10 {
		return Config{}, fmt.Errorf("CODE_LENGTH must be between 4 and 10")
	}
	switch cfg.DispatchQueue {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("DISPATCH_QUEUE must be memory or redis")
	}
	switch cfg.BlacklistBackend {
	case "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("BLACKLIST_BACKEND must be postgres or redis")
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devSecret + "-refresh"
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if cfg.JWTSecret == cfg.RefreshSecret {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must differ")
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a local development environment,
// where Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getSecondsOrDuration accepts KEY_SECONDS as an integer or KEY as a Go
// duration string, in that order.
func getSecondsOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(key, fallback)
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
