// Package feed fetches RSS/Atom feeds and renders their posts as chat messages.
package feed

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLoad marks feeds that could not be fetched or parsed.
	ErrLoad = errors.New("feed: load failed")
	// ErrFormat marks feeds that parse but lack what a subscription needs.
	ErrFormat = errors.New("feed: unsupported format")
)

// Post is one feed entry, reduced to what is delivered.
type Post struct {
	Title       string
	SummaryHTML string
	Link        string
	// PublishedAt falls back to the updated time, then to the zero time.
	PublishedAt time.Time
}

// Digest is the dedup key of a post: hex MD5 of its trimmed title.
func (p Post) Digest() string { return Digest(p.Title) }

func Digest(title string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(title)))
	return hex.EncodeToString(sum[:])
}

// LoadError reports why a feed could not be loaded.
type LoadError struct {
	URL        string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *LoadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: http %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }
