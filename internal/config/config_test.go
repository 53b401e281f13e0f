package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_QUEUE_FILE", "/var/lib/playout/playitems.txt")
	t.Setenv("PLAYOUT_ENV", "development")
	t.Setenv("PLAYOUT_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
	if cfg.QueueFile != "/var/lib/playout/playitems.txt" {
		t.Fatalf("unexpected queue file: %q", cfg.QueueFile)
	}
	if cfg.DeadLetterFile != "/var/lib/playout/playitems.txt.failed" {
		t.Fatalf("unexpected dead-letter file: %q", cfg.DeadLetterFile)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.PollInterval)
	}
	if cfg.Channel != 1 {
		t.Fatalf("unexpected channel: %d", cfg.Channel)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DSN is missing")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_DB_BACKEND", "access")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestLoadRejectsDeadLetterEqualToQueue(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_QUEUE_FILE", "queue.txt")
	t.Setenv("PLAYOUT_DEADLETTER_FILE", "queue.txt")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when dead-letter file equals the queue file")
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestLoadFallsBackToLegacyQueueKey(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_QUEUE_FILE", "")
	t.Setenv("NOTEPAD_FILE", "notepad.txt")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.QueueFile != "notepad.txt" {
		t.Fatalf("expected legacy queue key to be honoured, got %q", cfg.QueueFile)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadClampsRetryAttempts(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_STORE_RETRY_ATTEMPTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StoreRetryAttempts != 1 {
		t.Fatalf("expected retry attempts clamped to 1, got %d", cfg.StoreRetryAttempts)
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_API_JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short JWT secret")
	}

	t.Setenv("PLAYOUT_API_JWT_SECRET", "0123456789abcdef")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIJWTSecret != "0123456789abcdef" {
		t.Fatalf("unexpected secret: %q", cfg.APIJWTSecret)
	}
}

func TestLoadLogSettings(t *testing.T) {
	t.Setenv("PLAYOUT_DB_DSN", "file:schedule.db")
	t.Setenv("PLAYOUT_LOG_LEVEL", "warn")
	t.Setenv("PLAYOUT_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected log settings: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}

	t.Setenv("PLAYOUT_LOG_FORMAT", "logfmt")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
