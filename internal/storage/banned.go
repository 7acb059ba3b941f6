package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// BanOrigin bans origin until the given time (extending, never shortening, an existing ban).
func (s *Store) BanOrigin(ctx context.Context, origin string, until time.Time) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO banned_origins(origin, until) VALUES(?, ?)
		 ON CONFLICT(origin) DO UPDATE SET until = MAX(until, excluded.until)`,
		origin, until.UnixMilli(),
	)
	if err == nil && s.banCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneBans(pctx)
		cancel()
	}
	return err
}

// IsBanned reports whether origin is currently banned.
func (s *Store) IsBanned(ctx context.Context, origin string) (bool, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM banned_origins WHERE origin = ?`, origin).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Now().UnixMilli() < ms, nil
}

func (s *Store) pruneBans(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM banned_origins WHERE until < ?`, time.Now().UnixMilli())
	return err
}
