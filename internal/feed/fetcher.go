package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mmcdole/gofeed"

	logx "feedbot/pkg/logx"
)

const maxFeedBytes = 10 << 20

// Options configures a Fetcher.
type Options struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	// Attempts is the number of tries for transient failures (default 3).
	Attempts uint
	// RetryDelay is the base delay between tries (default 1s).
	RetryDelay time.Duration
	Log        logx.Logger
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client    *http.Client
	userAgent string
	attempts  uint
	delay     time.Duration
	log       logx.Logger
}

func NewFetcher(opt Options) *Fetcher {
	f := &Fetcher{
		client:    opt.Client,
		userAgent: strings.TrimSpace(opt.UserAgent),
		attempts:  opt.Attempts,
		delay:     opt.RetryDelay,
		log:       opt.Log,
	}
	if f.client == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		f.client = &http.Client{Timeout: timeout}
	}
	if f.userAgent == "" {
		f.userAgent = "feedbot/1.0"
	}
	if f.attempts == 0 {
		f.attempts = 3
	}
	if f.delay <= 0 {
		f.delay = time.Second
	}
	return f
}

// httpStatusError is a non-2xx answer from the feed server.
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// permanentError wraps failures that another attempt cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func transient(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout
	}
	var pe *permanentError
	return !errors.As(err, &pe)
}

// parsed fetches url and returns the parsed feed, retrying transient failures.
func (f *Fetcher) parsed(ctx context.Context, url string) (*gofeed.Feed, error) {
	var (
		out     *gofeed.Feed
		lastErr error
	)
	err := retry.Do(
		func() error {
			feed, err := f.fetchOnce(ctx, url)
			if err != nil {
				lastErr = err
				if !transient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			out = feed
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(f.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.log.Debug("feed fetch retry", logx.String("url", url), logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		le := &LoadError{URL: url, Err: lastErr}
		var se *httpStatusError
		if errors.As(lastErr, &se) {
			le.StatusCode = se.code
		}
		return nil, le
	}
	return out, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("parse: %w", err)}
	}
	return feed, nil
}

// Fetch returns the posts of the feed at url in feed order (newest first for
// well-behaved feeds). It fails with a *LoadError when the feed is
// unreachable, unparsable, empty, or its first entry has neither a title
// nor a publish time.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Post, error) {
	parsed, err := f.parsed(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(parsed.Items) == 0 {
		return nil, &LoadError{URL: url, Err: errors.New("feed has no entries")}
	}
	posts := make([]Post, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		posts = append(posts, toPost(it))
	}
	if len(posts) == 0 || (posts[0].Title == "" && posts[0].PublishedAt.IsZero()) {
		return nil, &LoadError{URL: url, Err: errors.New("first entry has no title and no publish time")}
	}
	return posts, nil
}

// Validate checks that url is a feed a subscription can follow and returns
// its top post. The feed needs a link and its first entry needs a title and
// a publish time; otherwise the error wraps ErrFormat.
func (f *Fetcher) Validate(ctx context.Context, url string) (Post, error) {
	parsed, err := f.parsed(ctx, url)
	if err != nil {
		return Post{}, err
	}
	if strings.TrimSpace(parsed.Link) == "" && strings.TrimSpace(parsed.FeedLink) == "" && len(parsed.Links) == 0 {
		return Post{}, fmt.Errorf("%w: feed has no link", ErrFormat)
	}
	if len(parsed.Items) == 0 || parsed.Items[0] == nil {
		return Post{}, fmt.Errorf("%w: feed has no entries", ErrFormat)
	}
	top := parsed.Items[0]
	if strings.TrimSpace(top.Title) == "" || top.PublishedParsed == nil {
		return Post{}, fmt.Errorf("%w: first entry needs a title and a publish date", ErrFormat)
	}
	return toPost(top), nil
}

func toPost(it *gofeed.Item) Post {
	p := Post{
		Title: strings.TrimSpace(it.Title),
		Link:  strings.TrimSpace(it.Link),
	}
	p.SummaryHTML = it.Description
	if strings.TrimSpace(p.SummaryHTML) == "" {
		p.SummaryHTML = it.Content
	}
	switch {
	case it.PublishedParsed != nil:
		p.PublishedAt = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		p.PublishedAt = *it.UpdatedParsed
	}
	return p
}
