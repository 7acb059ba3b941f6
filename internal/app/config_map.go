package app

import (
	"strings"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/feed"
	"feedbot/internal/inbound"
	"feedbot/internal/notifier"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.Busy(),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapNotifierConfig overlays the configured backoffs on the stock retry
// table. Retry counts and exhaustion actions are not configurable.
func mapNotifierConfig(cfg *config.Config) notifier.Config {
	policy := notifier.DefaultPolicy()
	notFound, blocked, rateLimited, transport := cfg.Notifier.Backoff.Backoffs()
	setBackoff(policy, notifier.CategoryNotFound, notFound)
	setBackoff(policy, notifier.CategoryBlocked, blocked)
	setBackoff(policy, notifier.CategoryRateLimited, rateLimited)
	setBackoff(policy, notifier.CategoryTransport, transport)

	return notifier.Config{
		Pause:      cfg.Notifier.PauseDuration(),
		Policy:     policy,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func setBackoff(p notifier.Policy, c notifier.Category, d time.Duration) {
	r := p[c]
	r.Backoff = d
	p[c] = r
}

func mapFeedOptions(cfg *config.Config, log logx.Logger) feed.Options {
	return feed.Options{
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   cfg.Feed.TimeoutDuration(),
		Log:       log,
	}
}

func mapFarewell(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Messages.Farewell); s != "" {
		return s
	}
	return inbound.DefaultFarewell
}
