package storage

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrExists       = errors.New("storage: already exists")
	ErrLabelTooLong = errors.New("storage: label too long")
)

const (
	// MaxLabelRunes bounds DisplayOptions.Label.
	MaxLabelRunes = 30
	// MaxDigests is the default dedup window.
	MaxDigests = 50

	digestSeparator = " /// "
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// DisplayOptions controls how posts of a subscription are rendered.
type DisplayOptions struct {
	Summary bool
	Date    bool
	Link    bool
	Label   string
}

// DefaultDisplay shows every part of a post.
func DefaultDisplay() DisplayOptions {
	return DisplayOptions{Summary: true, Date: true, Link: true}
}

// Subscription is one (subscriber, feed) pair with its dedup state.
type Subscription struct {
	ID           int64
	SubscriberID int64
	FeedURL      string
	// LastCheck is the publish time of the newest delivered post.
	LastCheck time.Time
	// RecentDigests holds title digests of recently delivered posts, most recent first.
	RecentDigests []string
	Display       DisplayOptions
	CreatedAt     time.Time
}

// InboundEvent is a raw update waiting in the inbound queue.
type InboundEvent struct {
	ID         int64
	Payload    []byte
	ReceivedAt time.Time
}

// DisplayField names a toggleable display flag.
type DisplayField string

const (
	FieldSummary DisplayField = "summary"
	FieldDate    DisplayField = "date"
	FieldLink    DisplayField = "link"
)

func (f DisplayField) column() (string, bool) {
	switch f {
	case FieldSummary:
		return "show_summary", true
	case FieldDate:
		return "show_date", true
	case FieldLink:
		return "show_link", true
	default:
		return "", false
	}
}

// ValidLabel reports whether label fits MaxLabelRunes.
func ValidLabel(label string) bool {
	return utf8.RuneCountInString(label) <= MaxLabelRunes
}

// EncodeDigests joins at most limit digests (limit <= 0 means MaxDigests)
// into the persisted " /// " separated form.
func EncodeDigests(digests []string, limit int) string {
	if limit <= 0 {
		limit = MaxDigests
	}
	if len(digests) > limit {
		digests = digests[:limit]
	}
	return strings.Join(digests, digestSeparator)
}

// DecodeDigests is the inverse of EncodeDigests. Blank entries are dropped.
func DecodeDigests(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, digestSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
