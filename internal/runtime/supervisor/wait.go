package supervisor

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done. It reports true when the full
// duration elapsed and false when the wait was cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepUntil waits until the wall clock reaches at (see Sleep).
func SleepUntil(ctx context.Context, at time.Time) bool {
	return Sleep(ctx, time.Until(at))
}
