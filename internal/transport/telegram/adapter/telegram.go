package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe handshake (tests, dry runs).
	Offline bool
	// Timeout bounds one Bot API HTTP call.
	Timeout time.Duration
}

// Adapter wraps a telebot Bot that never polls: updates arrive through the
// webhook receiver and are decoded with DecodeUpdate.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	settings := tele.Settings{
		Token:       cfg.Token,
		Synchronous: true,
		Offline:     cfg.Offline,
		OnError: func(err error, c tele.Context) {
			var chatID int64
			if c != nil && c.Chat() != nil {
				chatID = c.Chat().ID
			}
			a.log.Warn("update handler failed", logx.Int64("chat_id", chatID), logx.Err(err))
		},
	}
	if cfg.Timeout > 0 {
		settings.Client = &http.Client{Timeout: cfg.Timeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	a.bot = b
	return a, nil
}

// Bot exposes the underlying bot so the dispatcher can register handlers.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

// SetWebhook points Telegram at our public receiver URL.
func (a *Adapter) SetWebhook(ctx context.Context, publicURL, secretToken string) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	wh := &tele.Webhook{
		SecretToken: secretToken,
		Endpoint:    &tele.WebhookEndpoint{PublicURL: publicURL},
	}
	if err := a.bot.SetWebhook(wh); err != nil {
		return toSendError(err)
	}
	a.log.Info("webhook registered", logx.String("url", publicURL))
	return nil
}

// DecodeUpdate parses a raw webhook payload. A payload is a valid envelope
// only when it decodes as an update and carries a non-zero update_id.
func DecodeUpdate(payload []byte) (tele.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return tele.Update{}, err
	}
	if u.ID == 0 {
		return tele.Update{}, errors.New("update_id missing")
	}
	return u, nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if ctx != nil && ctx.Err() != nil {
			return first, ctx.Err()
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, toSendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

var (
	reAPIError   = regexp.MustCompile(`^telegram: (.*) \((\d+)\)$`)
	reRetryAfter = regexp.MustCompile(`(?i)retry after (\d+)`)
)

// toSendError converts telebot failures into the structured transport error.
// Errors that did not come from the Bot API (dial failures, timeouts) are
// returned unchanged.
func toSendError(err error) error {
	if err == nil {
		return nil
	}
	var se *kit.SendError
	if errors.As(err, &se) {
		return err
	}

	out := &kit.SendError{}
	var te *tele.Error
	if errors.As(err, &te) {
		out.Code = te.Code
		out.Description = te.Description
		if out.Description == "" {
			out.Description = te.Message
		}
	} else if m := reAPIError.FindStringSubmatch(err.Error()); m != nil {
		out.Code, _ = strconv.Atoi(m[2])
		out.Description = m[1]
	} else {
		return err
	}
	if m := reRetryAfter.FindStringSubmatch(err.Error() + " " + out.Description); m != nil {
		out.RetryAfter, _ = strconv.Atoi(m[1])
	}
	return out
}
