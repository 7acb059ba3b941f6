package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example</title>
<link>https://example.org/</link>
<description>test feed</description>
%s
</channel>
</rss>`

func rssItem(title string, pub time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>https://example.org/%s</link><description>&lt;p&gt;About %s&lt;/p&gt;</description><pubDate>%s</pubDate></item>`,
		title, strings.ToLower(title), title, pub.Format(time.RFC1123Z))
}

func newTestFetcher(client *http.Client) *Fetcher {
	return NewFetcher(Options{Client: client, Attempts: 3, RetryDelay: time.Millisecond, Log: logx.Nop()})
}

func TestDigest(t *testing.T) {
	t.Parallel()
	// md5("Hello")
	if got := Digest("  Hello \n"); got != "8b1a9953c4611296a827abf8c47804d7" {
		t.Fatalf("Digest() = %q", got)
	}
	if Digest("Hello") != (Post{Title: "Hello"}).Digest() {
		t.Fatal("Post.Digest should match Digest")
	}
}

func TestFetchParsesNewestFirst(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(rssTemplate, rssItem("World", base.Add(time.Hour))+rssItem("Hello", base))
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(Options{Client: srv.Client(), UserAgent: "feedbot-test", Log: logx.Nop()})
	posts, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(posts) != 2 || posts[0].Title != "World" || posts[1].Title != "Hello" {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if !posts[0].PublishedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("PublishedAt = %v", posts[0].PublishedAt)
	}
	if got, _ := ua.Load().(string); got != "feedbot-test" {
		t.Fatalf("User-Agent = %q", got)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	body := fmt.Sprintf(rssTemplate, rssItem("Hello", time.Now()))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	posts, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(posts) != 1 || calls.Load() != 3 {
		t.Fatalf("posts=%d calls=%d", len(posts), calls.Load())
	}
}

func TestFetchLoadErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
		wantCode  int
	}{
		{name: "not found", status: http.StatusNotFound, wantCalls: 1, wantCode: 404},
		{name: "server error", status: http.StatusInternalServerError, wantCalls: 3, wantCode: 500},
		{name: "garbage", status: http.StatusOK, body: "definitely not a feed", wantCalls: 1},
		{name: "empty", status: http.StatusOK, body: fmt.Sprintf(rssTemplate, ""), wantCalls: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL)
			if !errors.Is(err, ErrLoad) {
				t.Fatalf("Fetch() = %v, want ErrLoad", err)
			}
			var le *LoadError
			if !errors.As(err, &le) || le.StatusCode != tt.wantCode {
				t.Fatalf("LoadError = %+v, want code %d", le, tt.wantCode)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := fmt.Sprintf(rssTemplate, rssItem("Hello", time.Now()))
	noDate := fmt.Sprintf(rssTemplate, `<item><title>Undated</title></item>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			_, _ = w.Write([]byte(good))
		case "/nodate":
			_, _ = w.Write([]byte(noDate))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	f := newTestFetcher(srv.Client())

	top, err := f.Validate(context.Background(), srv.URL+"/good")
	if err != nil || top.Title != "Hello" {
		t.Fatalf("Validate(good) = %+v, %v", top, err)
	}
	if _, err := f.Validate(context.Background(), srv.URL+"/nodate"); !errors.Is(err, ErrFormat) {
		t.Fatalf("Validate(nodate) = %v, want ErrFormat", err)
	}
	if _, err := f.Validate(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrLoad) {
		t.Fatalf("Validate(missing) = %v, want ErrLoad", err)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	pub := time.Date(2024, 1, 15, 9, 5, 0, 0, time.FixedZone("", 3*3600))
	post := Post{
		Title:       "Release 1.0",
		SummaryHTML: "<p>We <b>shipped</b> it.</p><script>alert(1)</script>",
		Link:        "https://example.org/r1",
		PublishedAt: pub,
	}
	tests := []struct {
		name string
		opt  storage.DisplayOptions
		want string
	}{
		{
			name: "everything",
			opt:  storage.DisplayOptions{Summary: true, Date: true, Link: true, Label: "blog"},
			want: "blog: Release 1.0\n\nWe shipped it.\n\nMonday, 15 January 2024, 09:05 +0300\nhttps://example.org/r1",
		},
		{
			name: "title only",
			opt:  storage.DisplayOptions{},
			want: "Release 1.0",
		},
		{
			name: "link without date",
			opt:  storage.DisplayOptions{Link: true},
			want: "Release 1.0\n\nhttps://example.org/r1",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Format(post, tt.opt); got != tt.want {
				t.Fatalf("Format() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}

	r := Formatter{}.Render(Post{Title: "Bare"}, storage.DefaultDisplay())
	if !r.MissingSummary || !r.MissingLink || r.Text != "Bare" {
		t.Fatalf("Render(bare) = %+v", r)
	}
}

func TestSummaryTruncates(t *testing.T) {
	t.Parallel()
	long := "<p>" + strings.Repeat("ж", 450) + "</p>"
	got := Summary(long, 400)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 403 {
		t.Fatalf("Summary() rune length = %d", len([]rune(got)))
	}
	if got := Summary("<p>short</p>", 400); got != "short" {
		t.Fatalf("Summary(short) = %q", got)
	}
}
