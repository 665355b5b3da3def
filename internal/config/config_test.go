package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CodeTTL != 5*time.Minute || cfg.CodeLength != 6 {
		t.Fatalf("unexpected code defaults: %v %d", cfg.CodeTTL, cfg.CodeLength)
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" || cfg.JWTSecret == cfg.RefreshSecret {
		t.Fatalf("expected distinct development secrets")
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/photogram")
	t.Setenv("JWT_SECRET", "same")
	t.Setenv("REFRESH_SECRET", "same")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for identical secrets")
	}

	t.Setenv("REFRESH_SECRET", "other")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsDev() {
		t.Fatalf("production must not be treated as dev")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("CODE_TTL", "2m")
	t.Setenv("CODE_LENGTH", "4")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISPATCH_QUEUE", "REDIS")
	t.Setenv("DISPATCH_RATE", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CodeTTL != 2*time.Minute || cfg.CodeLength != 4 {
		t.Fatalf("unexpected code settings: %v %d", cfg.CodeTTL, cfg.CodeLength)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("unexpected shutdown period %v", cfg.ShutdownPeriod)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.DispatchQueue != "redis" || cfg.DispatchRate != 2.5 {
		t.Fatalf("unexpected dispatch settings %s %v", cfg.DispatchQueue, cfg.DispatchRate)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CODE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad CODE_TTL")
	}
	t.Setenv("CODE_TTL", "")
	t.Setenv("DISPATCH_QUEUE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown queue")
	}
}
