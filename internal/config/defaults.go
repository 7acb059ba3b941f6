package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"feedbot/internal/storage"
)

// TokenEnv overrides telegram.token when set.
const TokenEnv = "FEEDBOT_TELEGRAM_TOKEN"

const (
	DefaultSchedule     = "@every 1h"
	DefaultDigestWindow = storage.MaxDigests
	DefaultSummaryLen   = 400
	DefaultMaxBodyBytes = 1 << 20
	DefaultFarewell     = "Sorry, but I am going to sleep. See you later!"
)

// ApplyDefaults fills omitted fields in place. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		c.Telegram.Token = tok
	}
	setDefault(&c.Telegram.RequestTimeout, "30s")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.File.Path, "./feedbot.log")
	setDefault(&c.Logging.Telegram.MinLevel, "warn")
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}

	setDefault(&c.Storage.Path, "./feedbot.db")
	setDefault(&c.Storage.BusyTimeout, "5s")

	setDefault(&c.Webhook.Listen, "127.0.0.1:5000")
	setDefault(&c.Webhook.Path, "/webhook")
	setDefault(&c.Webhook.BanDuration, "24h")
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = DefaultMaxBodyBytes
	}

	setDefault(&c.Updater.Schedule, DefaultSchedule)
	if c.Updater.DigestWindow <= 0 {
		c.Updater.DigestWindow = DefaultDigestWindow
	}

	setDefault(&c.Notifier.Pause, "100ms")
	setDefault(&c.Notifier.Backoff.NotFound, "5s")
	setDefault(&c.Notifier.Backoff.Blocked, "10s")
	setDefault(&c.Notifier.Backoff.RateLimited, "10s")
	setDefault(&c.Notifier.Backoff.Transport, "2s")

	setDefault(&c.Feed.Timeout, "30s")
	setDefault(&c.Feed.UserAgent, "feedbot/1.0 (+https://core.telegram.org/bots)")
	if c.Feed.SummaryLength <= 0 {
		c.Feed.SummaryLength = DefaultSummaryLen
	}

	setDefault(&c.Messages.Farewell, DefaultFarewell)
}

func setDefault(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token: required (or set %s)", TokenEnv))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.log_chat_id"))
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		errs = append(errs, fmt.Errorf("webhook.path: must start with '/', got %q", c.Webhook.Path))
	}
	if u := strings.TrimSpace(c.Webhook.PublicURL); u != "" && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("webhook.public_url: must be https, got %q", u))
	}

	if w := c.Updater.DigestWindow; w > storage.MaxDigests {
		errs = append(errs, fmt.Errorf("updater.digest_window: at most %d, got %d", storage.MaxDigests, w))
	}

	durations := map[string]string{
		"telegram.request_timeout":      c.Telegram.RequestTimeout,
		"storage.busy_timeout":          c.Storage.BusyTimeout,
		"webhook.ban_duration":          c.Webhook.BanDuration,
		"notifier.pause":                c.Notifier.Pause,
		"notifier.backoff.not_found":    c.Notifier.Backoff.NotFound,
		"notifier.backoff.blocked":      c.Notifier.Backoff.Blocked,
		"notifier.backoff.rate_limited": c.Notifier.Backoff.RateLimited,
		"notifier.backoff.transport":    c.Notifier.Backoff.Transport,
		"feed.timeout":                  c.Feed.Timeout,
	}
	for path, raw := range durations {
		if _, err := parseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Durations resolved from the validated config.

func (t TelegramConfig) Timeout() time.Duration { return durationOr(t.RequestTimeout, 30*time.Second) }

func (s StorageConfig) Busy() time.Duration { return durationOr(s.BusyTimeout, 5*time.Second) }

func (w WebhookConfig) BanFor() time.Duration { return durationOr(w.BanDuration, 24*time.Hour) }

func (n NotifierConfig) PauseDuration() time.Duration { return durationOr(n.Pause, 100*time.Millisecond) }

func (f FeedConfig) TimeoutDuration() time.Duration { return durationOr(f.Timeout, 30*time.Second) }

// Backoffs returns the waits in policy order: not_found, blocked, rate_limited, transport.
func (b BackoffConfig) Backoffs() (notFound, blocked, rateLimited, transport time.Duration) {
	return durationOr(b.NotFound, 5*time.Second),
		durationOr(b.Blocked, 10*time.Second),
		durationOr(b.RateLimited, 10*time.Second),
		durationOr(b.Transport, 2*time.Second)
}

// durationOr substitutes def for empty, zero and invalid values; Validate
// has already rejected invalid ones.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// parseDuration reads a Go duration string; empty means zero. path names the
// field in errors (e.g. "notifier.pause").
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %q", path, raw)
	}
	return d, nil
}
