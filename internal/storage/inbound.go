package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnqueueInbound appends a raw update to the inbound queue.
func (s *Store) EnqueueInbound(ctx context.Context, payload []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound(payload, received_at) VALUES(?, ?)`, payload, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("storage: enqueue inbound: %w", err)
	}
	return res.LastInsertId()
}

// PopInbound removes and returns the oldest queued update in one
// transaction. ok is false when the queue is empty.
//
// The commit is the hand-off point: a crash after PopInbound returns loses
// that one update, a crash before it leaves the row in place.
func (s *Store) PopInbound(ctx context.Context) (ev InboundEvent, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InboundEvent{}, false, fmt.Errorf("storage: pop inbound: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var received int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload, received_at FROM inbound ORDER BY id LIMIT 1`).
		Scan(&ev.ID, &ev.Payload, &received)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		return InboundEvent{}, false, nil
	}
	if err != nil {
		return InboundEvent{}, false, fmt.Errorf("storage: pop inbound: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM inbound WHERE id = ?`, ev.ID); err != nil {
		return InboundEvent{}, false, fmt.Errorf("storage: pop inbound: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return InboundEvent{}, false, fmt.Errorf("storage: pop inbound: %w", err)
	}
	ev.ReceivedAt = fromMillis(received)
	return ev, true, nil
}

// InboundLen reports the number of queued updates.
func (s *Store) InboundLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inbound`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: inbound len: %w", err)
	}
	return n, nil
}
