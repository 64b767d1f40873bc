package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
db:
  dsn: postgres://u:p@localhost/db
auth:
  jwt_secret: secret
payout:
  fee_percent: "2.5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected addr :9000, got %q", cfg.Server.Addr)
	}
	if cfg.Requests.DailyLimit != 10 {
		t.Errorf("expected default daily limit 10, got %d", cfg.Requests.DailyLimit)
	}
	if cfg.OfferTTL() != 7*24*time.Hour {
		t.Errorf("expected 7d offer ttl, got %s", cfg.OfferTTL())
	}
	if cfg.PaystackTimeout() != 10*time.Second {
		t.Errorf("expected 10s gateway timeout, got %s", cfg.PaystackTimeout())
	}
	if cfg.FeePercent().String() != "2.5" {
		t.Errorf("expected fee 2.5, got %s", cfg.FeePercent())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://file
auth:
  jwt_secret: file-secret
`)
	t.Setenv("DB_DSN", "postgres://env")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REQUESTS_DAILY_LIMIT", "3")
	t.Setenv("PAYOUT_DELAY_SECONDS", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.DSN != "postgres://env" {
		t.Errorf("expected env dsn, got %q", cfg.DB.DSN)
	}
	if !cfg.IsProduction() {
		t.Error("expected production env")
	}
	if cfg.Requests.DailyLimit != 3 {
		t.Errorf("expected daily limit 3, got %d", cfg.Requests.DailyLimit)
	}
	if cfg.Payout.DelaySeconds != 5 {
		t.Errorf("invalid env value should fall back to default, got %d", cfg.Payout.DelaySeconds)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing dsn":    "auth:\n  jwt_secret: s\n",
		"missing secret": "db:\n  dsn: postgres://x\n",
		"bad fee":        "db:\n  dsn: postgres://x\nauth:\n  jwt_secret: s\npayout:\n  fee_percent: \"150\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
