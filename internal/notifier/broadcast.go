package notifier

import (
	"context"
	"time"

	logx "feedbot/pkg/logx"
)

// Report summarizes a Broadcast.
type Report struct {
	Total     int
	Delivered int
	Failed    int
	Dropped   int
	// Failures lists recipients that did not receive the text.
	Failures []int64
	Took     time.Duration
}

// Broadcast sends text to each recipient in turn, stopping early when ctx
// is cancelled. Duplicate recipients receive the text once.
func (n *Notifier) Broadcast(ctx context.Context, recipients []int64, text string) Report {
	start := time.Now()
	rep := Report{}
	seen := make(map[int64]struct{}, len(recipients))
	for _, id := range recipients {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if ctx.Err() != nil {
			break
		}
		rep.Total++
		out := n.Send(ctx, id, text)
		switch {
		case out.OK():
			rep.Delivered++
		case out.Dropped:
			rep.Dropped++
			rep.Failures = append(rep.Failures, id)
		default:
			rep.Failed++
			rep.Failures = append(rep.Failures, id)
		}
	}
	rep.Took = time.Since(start)
	n.log.Info("broadcast finished",
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("dropped", rep.Dropped),
		logx.Duration("took", rep.Took),
	)
	return rep
}
