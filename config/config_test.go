package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("RECONCILE_STALE_AFTER", "")
	cfg := Load()

	if cfg.Database.Driver != "mysql" {
		t.Errorf("Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Reconciliation.StaleAfter != 15*time.Minute {
		t.Errorf("StaleAfter = %v, want 15m", cfg.Reconciliation.StaleAfter)
	}
	if cfg.Idempotency.TTL != 72*time.Hour {
		t.Errorf("TTL = %v, want 72h", cfg.Idempotency.TTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("RECONCILE_STALE_AFTER", "5m")
	t.Setenv("COMMISSION_BATCH_SIZE", "7")
	t.Setenv("WEBHOOK_RATE_PER_SECOND", "2.5")
	t.Setenv("ENVIRONMENT", "production")

	cfg := Load()
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Reconciliation.StaleAfter != 5*time.Minute {
		t.Errorf("StaleAfter = %v, want 5m", cfg.Reconciliation.StaleAfter)
	}
	if cfg.Commission.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cfg.Commission.BatchSize)
	}
	if cfg.RateLimit.WebhookPerSecond != 2.5 {
		t.Errorf("WebhookPerSecond = %v, want 2.5", cfg.RateLimit.WebhookPerSecond)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RECONCILE_BATCH_SIZE", "many")
	t.Setenv("RECONCILE_INTERVAL", "soon")

	cfg := Load()
	if cfg.Reconciliation.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want default 100", cfg.Reconciliation.BatchSize)
	}
	if cfg.Reconciliation.Interval != time.Minute {
		t.Errorf("Interval = %v, want default 1m", cfg.Reconciliation.Interval)
	}
}
