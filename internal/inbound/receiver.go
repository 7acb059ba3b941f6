package inbound

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/transport/telegram/adapter"
	logx "feedbot/pkg/logx"
)

// SecretHeader carries the webhook secret token set at registration.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Banlist remembers origins that sent invalid requests.
type Banlist interface {
	BanOrigin(ctx context.Context, origin string, until time.Time) error
	IsBanned(ctx context.Context, origin string) (bool, error)
}

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	Queue *Queue
	Bans  Banlist
	// Path of the webhook endpoint (default "/webhook").
	Path        string
	SecretToken string
	// BanFor is how long a rejected origin stays banned (default 24h).
	BanFor time.Duration
	// MaxBodyBytes bounds a webhook body (default 1 MiB).
	MaxBodyBytes int64
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Profiling is served under /debug/pprof/ when set.
	Profiling http.Handler
	Log       logx.Logger
	Bus       eventbus.Bus
}

// Receiver is the HTTP face of the bot: webhook intake, liveness and metrics.
type Receiver struct {
	q       *Queue
	bans    Banlist
	path    string
	secret  string
	banFor  time.Duration
	maxBody int64
	metrics http.Handler
	pprof   http.Handler
	log     logx.Logger
	bus     eventbus.Bus

	now func() time.Time
}

func NewReceiver(opts ReceiverOptions) *Receiver {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Receiver{
		q:       opts.Queue,
		bans:    opts.Bans,
		path:    opts.Path,
		secret:  opts.SecretToken,
		banFor:  opts.BanFor,
		maxBody: opts.MaxBodyBytes,
		metrics: opts.Metrics,
		pprof:   opts.Profiling,
		log:     log.With(logx.String("comp", "receiver")),
		bus:     opts.Bus,
		now:     time.Now,
	}
	if r.path == "" {
		r.path = "/webhook"
	}
	if r.banFor <= 0 {
		r.banFor = 24 * time.Hour
	}
	if r.maxBody <= 0 {
		r.maxBody = 1 << 20
	}
	return r
}

// Handler returns the routes of the receiver.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+r.path, r.webhook)
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
	if r.pprof != nil {
		mux.Handle("/debug/pprof/", r.pprof)
	}
	return mux
}

// Run serves on addr until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("receiver: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	r.log.Info("receiver listening", logx.String("addr", ln.Addr().String()), logx.String("path", r.path))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("receiver: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.log.Warn("receiver shutdown error", logx.Err(err))
	}
	<-errCh
	r.log.Info("receiver stopped")
	return nil
}

func (r *Receiver) webhook(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	origin := originOf(req)

	banned, err := r.bans.IsBanned(ctx, origin)
	if err != nil {
		r.log.Warn("ban lookup failed", logx.String("origin", origin), logx.Err(err))
	}
	if banned {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	mt, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		r.reject(w, req, origin, "content type")
		return
	}
	if r.secret != "" && subtle.ConstantTimeCompare([]byte(req.Header.Get(SecretHeader)), []byte(r.secret)) != 1 {
		r.reject(w, req, origin, "secret token")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		r.reject(w, req, origin, "body")
		return
	}
	if _, err := adapter.DecodeUpdate(body); err != nil {
		r.reject(w, req, origin, "envelope")
		return
	}

	if _, err := r.q.Enqueue(ctx, body); err != nil {
		r.log.Error("enqueue failed", logx.Err(err))
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Receiver) reject(w http.ResponseWriter, req *http.Request, origin, reason string) {
	until := r.now().Add(r.banFor)
	if err := r.bans.BanOrigin(req.Context(), origin, until); err != nil {
		r.log.Warn("ban origin failed", logx.String("origin", origin), logx.Err(err))
	}
	r.log.Warn("webhook request rejected",
		logx.String("origin", origin),
		logx.String("reason", reason),
		logx.Time("banned_until", until),
	)
	eventbus.Emit(r.bus, eventbus.TypeWebhookRejected, eventbus.WebhookData{Origin: origin, Reason: reason})
	http.Error(w, "forbidden", http.StatusForbidden)
}

func originOf(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
