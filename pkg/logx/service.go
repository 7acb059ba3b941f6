package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "feedbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig selects which lines reach ChatID and how many per second.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// Service owns the log outputs. Apply rebuilds them; every Logger derived
// from the Service picks up the new outputs on its next line.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatSink
}

// New applies cfg and returns the Service with its root Logger. sender
// carries forwarded lines to the operator chat; it may be nil.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if sender != nil {
		s.chat = newChatSink(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps outputs and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleOut())
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if s.chat != nil {
		s.chat.configure(cfg.Telegram)
		if cfg.Telegram.Enabled {
			outs = append(outs, s.chat)
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleOut())
	}

	zl := rootOn(zerolog.MultiLevelWriter(outs...), cfg.Level, zerolog.InfoLevel)
	s.root.Store(&zl)
}

// Close stops chat forwarding and closes the log file. Lines still queued
// for the chat are discarded.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if s.chat != nil {
		s.chat.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./feedbot.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// chatSink is a zerolog.LevelWriter that queues lines for the operator chat.
// A full queue or an exhausted limiter drops the line; logging never waits
// on the network.
type chatSink struct {
	sender kit.Sender
	lines  chan chatLine

	mu      sync.Mutex
	chatID  int64
	floor   zerolog.Level
	limiter *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type chatLine struct {
	chatID int64
	text   string
}

func newChatSink(sender kit.Sender) *chatSink {
	return &chatSink{
		sender: sender,
		lines:  make(chan chatLine, 256),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.floor = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if !cfg.Enabled {
		return
	}
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled without telegram.log_chat_id")
	}
	c.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

// run sends through the bare transport. Going through the notifier would
// log its own failures back into this sink.
func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	opt := &kit.SendOptions{DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.lines:
			_, _ = c.sender.SendText(ctx, kit.ChatTarget{ChatID: l.chatID}, l.text, opt)
		}
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.NoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, floor, lim := c.chatID, c.floor, c.limiter
	c.mu.Unlock()

	if chatID == 0 || level < floor || level == zerolog.NoLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := chatText(p); text != "" {
		select {
		case c.lines <- chatLine{chatID: chatID, text: text}:
		default:
		}
	}
	return len(p), nil
}
