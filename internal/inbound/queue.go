package inbound

import (
	"context"

	"feedbot/internal/eventbus"
	"feedbot/internal/storage"
)

// Backend is the durable storage of the queue.
type Backend interface {
	EnqueueInbound(ctx context.Context, payload []byte) (int64, error)
	PopInbound(ctx context.Context) (storage.InboundEvent, bool, error)
	InboundLen(ctx context.Context) (int, error)
}

// Queue is the durable inbound FIFO plus its work signal.
type Queue struct {
	store Backend
	sig   *Signal
	bus   eventbus.Bus
}

// NewQueue returns a queue whose signal starts set, so rows left over from
// a previous run are drained first.
func NewQueue(store Backend, bus eventbus.Bus) *Queue {
	q := &Queue{store: store, sig: NewSignal(), bus: bus}
	q.sig.Set()
	return q
}

// Enqueue appends payload and raises the signal.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	id, err := q.store.EnqueueInbound(ctx, payload)
	if err != nil {
		return 0, err
	}
	q.sig.Set()
	eventbus.Emit(q.bus, eventbus.TypeInboundEnqueued, id)
	return id, nil
}

// Pop removes the oldest row. ok is false when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (storage.InboundEvent, bool, error) {
	return q.store.PopInbound(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.InboundLen(ctx)
}

func (q *Queue) Signal() *Signal { return q.sig }
