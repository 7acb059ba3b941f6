package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedbot/internal/notifier"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "feedbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []string
	fail error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.got = append(d.got, string(payload))
	return nil
}

func (d *recordingDispatcher) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.got...)
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	recipients []int64
	texts      []string
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, recipients []int64, text string) notifier.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recipients = append(b.recipients, recipients...)
	b.texts = append(b.texts, text)
	return notifier.Report{Total: len(recipients), Delivered: len(recipients)}
}

type staticSubscribers []int64

func (s staticSubscribers) ListSubscribers(context.Context) ([]int64, error) { return s, nil }

func TestSignal(t *testing.T) {
	t.Parallel()
	s := NewSignal()
	if s.IsSet() {
		t.Fatal("new signal should be clear")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if s.Wait(ctx) {
		t.Fatal("Wait on a clear signal should time out")
	}

	s.Set()
	s.Set()
	if !s.IsSet() || !s.Wait(context.Background()) {
		t.Fatal("set signal should not block")
	}
	s.Clear()
	if s.IsSet() {
		t.Fatal("Clear did not reset the signal")
	}

	done := make(chan bool, 1)
	go func() { done <- s.Wait(context.Background()) }()
	s.Set()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Wait returned false")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up")
	}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewQueue(openTestStore(t), nil)
	d := &recordingDispatcher{}
	c := NewConsumer(ConsumerOptions{Queue: q, Dispatcher: d, Log: logx.Nop()})

	for _, p := range []string{"E1", "E2", "E3"} {
		if _, err := q.Enqueue(ctx, []byte(p)); err != nil {
			t.Fatalf("Enqueue(%s): %v", p, err)
		}
	}
	if !q.Signal().IsSet() {
		t.Fatal("Enqueue should raise the signal")
	}
	if err := c.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if diff := cmp.Diff([]string{"E1", "E2", "E3"}, d.seen()); diff != "" {
		t.Fatalf("dispatch order (-want +got):\n%s", diff)
	}
	if n, err := q.Len(ctx); err != nil || n != 0 {
		t.Fatalf("Len() = %d, %v", n, err)
	}
	if q.Signal().IsSet() {
		t.Fatal("signal should be cleared once the queue is empty")
	}
}

func TestConsumerRunAndShutdown(t *testing.T) {
	t.Parallel()
	q := NewQueue(openTestStore(t), nil)
	d := &recordingDispatcher{}
	b := &fakeBroadcaster{}
	c := NewConsumer(ConsumerOptions{
		Queue:       q,
		Dispatcher:  d,
		Notifier:    b,
		Subscribers: staticSubscribers{7, 8},
		Log:         logx.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, p := range []string{"a", "b"} {
		if _, err := q.Enqueue(context.Background(), []byte(p)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(d.seen()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// queued while stopping; must still be dispatched
	if _, err := q.Enqueue(context.Background(), []byte("c")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, d.seen()); diff != "" {
		t.Fatalf("dispatch order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{DefaultFarewell}, b.texts); diff != "" {
		t.Fatalf("farewell (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{7, 8}, b.recipients); diff != "" {
		t.Fatalf("farewell recipients (-want +got):\n%s", diff)
	}
}

func TestConsumerDispatchErrorIsFatal(t *testing.T) {
	t.Parallel()
	q := NewQueue(openTestStore(t), nil)
	boom := errors.New("boom")
	c := NewConsumer(ConsumerOptions{Queue: q, Dispatcher: &recordingDispatcher{fail: boom}, Log: logx.Nop()})
	if _, err := q.Enqueue(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want boom", err)
	}
}

func newTestReceiver(t *testing.T, secret string) (*Receiver, *Queue, *storage.Store) {
	t.Helper()
	st := openTestStore(t)
	q := NewQueue(st, nil)
	r := NewReceiver(ReceiverOptions{
		Queue:        q,
		Bans:         st,
		SecretToken:  secret,
		MaxBodyBytes: 256,
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "metrics") }),
		Profiling:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "profiles") }),
		Log:          logx.Nop(),
	})
	return r, q, st
}

func post(h http.Handler, body, contentType string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validUpdate = `{"update_id":1001,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"/start"}}`

func TestReceiverAcceptsValidUpdate(t *testing.T) {
	t.Parallel()
	r, q, _ := newTestReceiver(t, "")
	h := r.Handler()

	for _, ct := range []string{"application/json", "application/json; charset=utf-8"} {
		if rec := post(h, validUpdate, ct, nil); rec.Code != http.StatusOK {
			t.Fatalf("POST with %q = %d", ct, rec.Code)
		}
	}
	if n, _ := q.Len(context.Background()); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
}

func TestReceiverRejectsAndBans(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		ct      string
		headers map[string]string
	}{
		{name: "content type", body: validUpdate, ct: "text/plain"},
		{name: "missing content type", body: validUpdate},
		{name: "not json", body: "hello", ct: "application/json"},
		{name: "no update id", body: `{"message":{"text":"hi"}}`, ct: "application/json"},
		{name: "too large", body: `{"update_id":1,"pad":"` + strings.Repeat("x", 300) + `"}`, ct: "application/json"},
		{name: "bad secret", body: validUpdate, ct: "application/json", headers: map[string]string{SecretHeader: "nope"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, q, st := newTestReceiver(t, "s3cret")
			h := r.Handler()

			if rec := post(h, tt.body, tt.ct, tt.headers); rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", rec.Code)
			}
			if banned, _ := st.IsBanned(context.Background(), "192.0.2.1"); !banned {
				t.Fatal("origin should be banned")
			}
			// a valid request from a banned origin is refused too
			ok := map[string]string{SecretHeader: "s3cret"}
			if rec := post(h, validUpdate, "application/json", ok); rec.Code != http.StatusForbidden {
				t.Fatalf("banned origin status = %d, want 403", rec.Code)
			}
			if n, _ := q.Len(context.Background()); n != 0 {
				t.Fatalf("Len() = %d, want 0", n)
			}
		})
	}
}

func TestReceiverSecretAccepted(t *testing.T) {
	t.Parallel()
	r, q, _ := newTestReceiver(t, "s3cret")
	rec := post(r.Handler(), validUpdate, "application/json", map[string]string{SecretHeader: "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if n, _ := q.Len(context.Background()); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
}

func TestReceiverRoutes(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReceiver(t, "")
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	tests := []struct {
		method, path string
		code         int
		body         string
	}{
		{http.MethodGet, "/ping", http.StatusOK, "pong"},
		{http.MethodPost, "/ping", http.StatusOK, "pong"},
		{http.MethodGet, "/metrics", http.StatusOK, "metrics"},
		{http.MethodGet, "/debug/pprof/heap", http.StatusOK, "profiles"},
		{http.MethodGet, "/webhook", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.code)
		}
		if tt.body != "" && string(body) != tt.body {
			t.Fatalf("%s %s body = %q", tt.method, tt.path, body)
		}
	}
}
