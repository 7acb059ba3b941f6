package config

import (
	"reflect"
	"sort"
	"strings"

	logx "feedbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
//
// Only the logging section is applied live; RestartRequired reports whether
// any other section changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		!reflect.DeepEqual(oldCfg.Telegram.AllowedUserIDs, newCfg.Telegram.AllowedUserIDs) ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID ||
		strings.TrimSpace(oldCfg.Telegram.RequestTimeout) != strings.TrimSpace(newCfg.Telegram.RequestTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.allowed_count", len(newCfg.Telegram.AllowedUserIDs)),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.busy_timeout", newCfg.Storage.BusyTimeout))
	}

	// Webhook (never log secret token)
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.listen", newCfg.Webhook.Listen),
			logx.String("webhook.path", newCfg.Webhook.Path),
			logx.Bool("webhook.public_url_set", newCfg.Webhook.PublicURL != ""),
			logx.Bool("webhook.secret_set", newCfg.Webhook.SecretToken != ""),
			logx.Bool("webhook.pprof_enabled", newCfg.Webhook.PprofToken != ""),
		)
	}

	if oldCfg.Updater != newCfg.Updater {
		changed = append(changed, "updater")
		attrs = append(attrs,
			logx.String("updater.schedule", newCfg.Updater.Schedule),
			logx.Int("updater.digest_window", newCfg.Updater.DigestWindow),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.pause", newCfg.Notifier.Pause),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}

	if oldCfg.Feed != newCfg.Feed {
		changed = append(changed, "feed")
		attrs = append(attrs, logx.String("feed.timeout", newCfg.Feed.Timeout))
	}

	if oldCfg.Messages != newCfg.Messages {
		changed = append(changed, "messages")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether a change touches sections that are only
// read at startup.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}
