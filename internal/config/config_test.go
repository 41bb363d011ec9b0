package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "EVENTS_EXCHANGE")
	unsetEnvWithCleanup(t, "RECONCILE_RETRY_QUEUE")
	unsetEnvWithCleanup(t, "RECONCILE_RETRY_ROUTING_KEY")
	unsetEnvWithCleanup(t, "BALANCE_RATE_LIMIT_PER_MINUTE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.EventsExchange != "vault_mirror.events" {
		t.Fatalf("expected default events exchange, got %q", cfg.EventsExchange)
	}
	if cfg.ReconcileRetryQueue != "vault_mirror.reconcile_retry" {
		t.Fatalf("expected default retry queue, got %q", cfg.ReconcileRetryQueue)
	}
	if cfg.ReconcileRetryRoutingKey != "vault.reconcile.retry" {
		t.Fatalf("expected default retry routing key, got %q", cfg.ReconcileRetryRoutingKey)
	}
	if cfg.BalanceRateLimitPerMinute != 120 {
		t.Fatalf("expected default balance rate limit 120, got %d", cfg.BalanceRateLimitPerMinute)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesHeliusWebhookSecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "WEBHOOK_SECRET")
	setEnvWithCleanup(t, "HELIUS_WEBHOOK_SECRET", "alias-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WebhookSecret != "alias-secret" {
		t.Fatalf("expected WebhookSecret from alias env var, got %q", cfg.WebhookSecret)
	}
}

func TestLoadConfig_TrimsVaultProgramID(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "VAULT_PROGRAM_ID", "  VLT1111111111111111111111111111111111111111  ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.VaultProgramID != "VLT1111111111111111111111111111111111111111" {
		t.Fatalf("expected trimmed program id, got %q", cfg.VaultProgramID)
	}
}

func TestLoadConfig_NegativeRateLimitDisablesLimiter(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "BALANCE_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BalanceRateLimitPerMinute != 0 {
		t.Fatalf("expected negative limit coerced to 0, got %d", cfg.BalanceRateLimitPerMinute)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
