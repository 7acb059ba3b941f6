package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
// Zero/omitted values are filled by ApplyDefaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Webhook  WebhookConfig  `json:"webhook"`
	Updater  UpdaterConfig  `json:"updater"`
	Notifier NotifierConfig `json:"notifier"`
	Feed     FeedConfig     `json:"feed"`
	Messages MessagesConfig `json:"messages"`
}

type TelegramConfig struct {
	// Token may be left empty when FEEDBOT_TELEGRAM_TOKEN is set.
	Token string `json:"token"`
	// AllowedUserIDs restricts the bot to these users. Empty means everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	// LogChatID receives forwarded warnings when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// RequestTimeout is the HTTP timeout for Bot API calls.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the SQLite database.
//
// Example:
//
//	"storage": { "path": "./data/feedbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// WebhookConfig controls the inbound HTTP receiver.
//
// PublicURL is the address Telegram posts to; when empty the webhook is not
// (re)registered on startup and an external proxy is assumed.
type WebhookConfig struct {
	Listen       string `json:"listen"`
	Path         string `json:"path"`
	PublicURL    string `json:"public_url,omitempty"`
	SecretToken  string `json:"secret_token,omitempty"`
	BanDuration  string `json:"ban_duration,omitempty"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
	// PprofToken enables /debug/pprof/ on the receiver, guarded by this token.
	PprofToken string `json:"pprof_token,omitempty"`
}

type UpdaterConfig struct {
	// Schedule accepts a cron expression, a descriptor ("@every 1h"),
	// a Go duration ("30m") or an HH:MM interval ("01:30").
	Schedule string `json:"schedule"`
	// NotificationsFile holds operator announcements separated by ">>>".
	// They are broadcast once on startup and the file is truncated.
	NotificationsFile string `json:"notifications_file,omitempty"`
	// DigestWindow caps the number of remembered title digests per subscription.
	DigestWindow int `json:"digest_window,omitempty"`
}

type NotifierConfig struct {
	// Pause is observed after every send attempt.
	Pause   string        `json:"pause,omitempty"`
	Backoff BackoffConfig `json:"backoff"`
	// RatePerSec caps outbound sends across the whole process (0 = unlimited).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// BackoffConfig holds the wait between attempts, per failure category.
type BackoffConfig struct {
	NotFound    string `json:"not_found,omitempty"`
	Blocked     string `json:"blocked,omitempty"`
	RateLimited string `json:"rate_limited,omitempty"`
	Transport   string `json:"transport,omitempty"`
}

type FeedConfig struct {
	Timeout       string `json:"timeout,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	SummaryLength int    `json:"summary_length,omitempty"`
}

type MessagesConfig struct {
	// Farewell is sent to every subscriber on shutdown. "-" disables it.
	Farewell string `json:"farewell,omitempty"`
}
