package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{"telegram": {"token": "123:abc"}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr bool
	}{
		{name: "json", file: "c.json", body: minimalJSON},
		{name: "yaml", file: "c.yaml", body: "telegram:\n  token: \"123:abc\"\nupdater:\n  schedule: \"30m\"\n"},
		{name: "unknown field", file: "c.json", body: `{"telegram": {"token": "x"}, "plugins": {}}`, wantErr: true},
		{name: "unknown yaml field", file: "c.yml", body: "telegram:\n  tokn: x\n", wantErr: true},
		{name: "trailing data", file: "c.json", body: minimalJSON + minimalJSON, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Decode(tt.file, []byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if cfg.Telegram.Token != "123:abc" {
				t.Fatalf("token = %q", cfg.Telegram.Token)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	p := writeFile(t, t.TempDir(), "feedbot.json", minimalJSON)

	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Updater.Schedule != DefaultSchedule {
		t.Fatalf("schedule = %q", cfg.Updater.Schedule)
	}
	if cfg.Updater.DigestWindow != 50 || cfg.Feed.SummaryLength != 400 {
		t.Fatalf("window=%d summary=%d", cfg.Updater.DigestWindow, cfg.Feed.SummaryLength)
	}
	if cfg.Webhook.MaxBodyBytes != 1<<20 {
		t.Fatalf("max body = %d", cfg.Webhook.MaxBodyBytes)
	}
	nf, bl, rl, tr := cfg.Notifier.Backoff.Backoffs()
	if nf != 5*time.Second || bl != 10*time.Second || rl != 10*time.Second || tr != 2*time.Second {
		t.Fatalf("backoffs = %v %v %v %v", nf, bl, rl, tr)
	}
	if cfg.Notifier.PauseDuration() != 100*time.Millisecond {
		t.Fatalf("pause = %v", cfg.Notifier.PauseDuration())
	}
	if cfg.Webhook.BanFor() != 24*time.Hour {
		t.Fatalf("ban = %v", cfg.Webhook.BanFor())
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "999:env")
	p := writeFile(t, t.TempDir(), "feedbot.yaml", "updater:\n  schedule: \"@every 5m\"\n")

	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Telegram.Token != "999:env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv(TokenEnv, "")
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad duration", mutate: func(c *Config) { c.Notifier.Pause = "soon" }, wantErr: "notifier.pause"},
		{name: "negative duration", mutate: func(c *Config) { c.Feed.Timeout = "-1s" }, wantErr: "feed.timeout"},
		{name: "bad path", mutate: func(c *Config) { c.Webhook.Path = "hook" }, wantErr: "webhook.path"},
		{name: "plain http", mutate: func(c *Config) { c.Webhook.PublicURL = "http://example.org" }, wantErr: "public_url"},
		{name: "log chat", mutate: func(c *Config) { c.Logging.Telegram.Enabled = true }, wantErr: "log_chat_id"},
		{name: "smaller window", mutate: func(c *Config) { c.Updater.DigestWindow = 10 }},
		{name: "window too large", mutate: func(c *Config) { c.Updater.DigestWindow = 51 }, wantErr: "updater.digest_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Telegram: TelegramConfig{Token: "1:x"}}
			c.ApplyDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Setenv(TokenEnv, "")
	oldCfg := &Config{Telegram: TelegramConfig{Token: "1:secret"}}
	oldCfg.ApplyDefaults()
	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"

	changed, _ := SummarizeConfigChange(oldCfg, &newCfg)
	if len(changed) != 1 || changed[0] != "logging" {
		t.Fatalf("changed = %v", changed)
	}
	if RestartRequired(changed) {
		t.Fatal("logging change should apply live")
	}

	newCfg.Updater.Schedule = "@every 2h"
	changed, _ = SummarizeConfigChange(oldCfg, &newCfg)
	if !RestartRequired(changed) {
		t.Fatalf("updater change should require restart, changed = %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Setenv(TokenEnv, "")
	dir := t.TempDir()
	p := writeFile(t, dir, "feedbot.json", minimalJSON)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	body := `{"telegram": {"token": "123:abc"}, "logging": {"level": "debug"}}`
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			writeFile(t, dir, "feedbot.json", body)
		case <-deadline:
			t.Fatal("no config published after file change")
		}
	}
}
