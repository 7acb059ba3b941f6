package transport

import (
	"context"
	"fmt"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound half of a messaging adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// SendError is the structured failure reported by the remote messaging API.
// Description is the provider's human readable reason and is what delivery
// policies pattern-match on.
type SendError struct {
	Code        int
	Description string
	// RetryAfter is the server-suggested wait in seconds (0 if none).
	RetryAfter int
}

func (e *SendError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("send failed: %s (code=%d, retry_after=%ds)", e.Description, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("send failed: %s (code=%d)", e.Description, e.Code)
}
