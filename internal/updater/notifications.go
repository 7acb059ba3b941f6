package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	logx "feedbot/pkg/logx"
)

// NotificationSeparator splits messages in the notifications file.
const NotificationSeparator = ">>>"

// ParseNotifications splits the notifications file content into messages.
func ParseNotifications(content string) []string {
	var out []string
	for _, part := range strings.Split(content, NotificationSeparator) {
		if msg := strings.TrimSpace(part); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// sendNotifications broadcasts every message of the notifications file to
// every subscriber, then truncates the file. A missing file is not an error.
func (s *Scheduler) sendNotifications(ctx context.Context) error {
	if s.notes == "" {
		return nil
	}
	raw, err := os.ReadFile(s.notes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read notifications: %w", err)
	}
	msgs := ParseNotifications(string(raw))
	if len(msgs) == 0 {
		return nil
	}
	recipients, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.notifier.Broadcast(ctx, recipients, msg)
	}
	if err := os.Truncate(s.notes, 0); err != nil {
		return fmt.Errorf("truncate notifications: %w", err)
	}
	s.log.Info("startup notifications sent", logx.Int("messages", len(msgs)), logx.Int("recipients", len(recipients)))
	return nil
}
