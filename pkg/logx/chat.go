package logx

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

// Telegram allows 4096 characters per message.
const (
	chatTextMax  = 3500
	chatValueMax = 600
)

// chatText renders one JSON log line for a chat:
//
//	[WARN] feed fetch failed
//	- comp=updater
//	- url=https://example.org/rss
//
// Keys are sorted and the timestamp is dropped. Non-JSON input is sent as is.
func chatText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, chatTextMax)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)
	delete(m, "time")
	delete(m, "level")
	delete(m, "message")
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatValueMax))
	}
	return clip(b.String(), chatTextMax)
}

// clip shortens s to at most n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:max(cut, 0)] + "..."
}
