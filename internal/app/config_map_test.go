package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/inbound"
	"feedbot/internal/notifier"
	logx "feedbot/pkg/logx"
)

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	cfg := loadTestConfig(t, `
telegram:
  token: "123:abc"
notifier:
  pause: 250ms
  rate_per_sec: 20
  backoff:
    blocked: 1m
`)
	nc := mapNotifierConfig(cfg)
	if nc.Pause != 250*time.Millisecond || nc.RatePerSec != 20 {
		t.Fatalf("notifier config = %+v", nc)
	}

	tests := []struct {
		cat     notifier.Category
		retries int
		backoff time.Duration
		exhaust notifier.Exhaustion
	}{
		{notifier.CategoryUnauthorized, 0, 0, notifier.Fatal},
		{notifier.CategoryNotFound, 1, 5 * time.Second, notifier.DropRecipient},
		{notifier.CategoryBlocked, 3, time.Minute, notifier.DropRecipient},
		{notifier.CategoryRateLimited, 1, 10 * time.Second, notifier.GiveUp},
		{notifier.CategoryTransport, 3, 2 * time.Second, notifier.GiveUp},
		{notifier.CategoryNetwork, 1, 5 * time.Second, notifier.GiveUp},
	}
	for _, tt := range tests {
		got := nc.Policy[tt.cat]
		if got.Retries != tt.retries || got.Backoff != tt.backoff || got.Exhaustion != tt.exhaust {
			t.Errorf("%s: rule = %+v", tt.cat, got)
		}
	}
}

func TestMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := loadTestConfig(t, `{"telegram": {"token": "123:abc", "log_chat_id": -100}}`)

	if sc := mapStorageConfig(cfg); sc.Path != "./feedbot.db" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage config = %+v", sc)
	}
	lc := mapLogConfig(cfg)
	if lc.Level != "info" || lc.Telegram.ChatID != -100 || lc.Telegram.Enabled {
		t.Fatalf("log config = %+v", lc)
	}
	fo := mapFeedOptions(cfg, logx.Nop())
	if fo.Timeout != 30*time.Second || fo.UserAgent == "" {
		t.Fatalf("feed options = %+v", fo)
	}
	if got := mapFarewell(cfg); got != inbound.DefaultFarewell {
		t.Fatalf("farewell = %q", got)
	}
}
