package updater

import (
	"time"

	"feedbot/internal/feed"
)

// NewPosts returns the posts of a newest-first feed that were not delivered
// yet, oldest first. The walk stops at the first post not newer than
// lastCheck or whose digest is already in recent. A title repeated within
// the same fetch is kept once.
func NewPosts(posts []feed.Post, lastCheck time.Time, recent []string) []feed.Post {
	known := make(map[string]struct{}, len(recent))
	for _, d := range recent {
		known[d] = struct{}{}
	}
	seen := make(map[string]struct{})
	var fresh []feed.Post
	for _, p := range posts {
		if !p.PublishedAt.After(lastCheck) {
			break
		}
		d := p.Digest()
		if _, ok := known[d]; ok {
			break
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		fresh = append(fresh, p)
	}
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh
}

// PrependDigests returns the digests of delivered (oldest first) in front of
// recent, most recent first, capped at limit.
func PrependDigests(recent []string, delivered []feed.Post, limit int) []string {
	out := make([]string, 0, len(delivered)+len(recent))
	for i := len(delivered) - 1; i >= 0; i-- {
		out = append(out, delivered[i].Digest())
	}
	out = append(out, recent...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
