package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const subscriptionColumns = `id, subscriber_id, feed_url, last_check, recent_digests,
	show_summary, show_date, show_link, COALESCE(label, ''), created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		sub                 Subscription
		lastCheck, created  int64
		digests             string
		summary, date, link int
	)
	err := r.Scan(&sub.ID, &sub.SubscriberID, &sub.FeedURL, &lastCheck, &digests,
		&summary, &date, &link, &sub.Display.Label, &created)
	if err != nil {
		return Subscription{}, err
	}
	sub.LastCheck = fromMillis(lastCheck)
	sub.CreatedAt = fromMillis(created)
	sub.RecentDigests = DecodeDigests(digests)
	sub.Display.Summary = summary != 0
	sub.Display.Date = date != 0
	sub.Display.Link = link != 0
	return sub, nil
}

// AddSubscription inserts sub and returns it with ID and CreatedAt set.
// It returns ErrExists when the subscriber already follows the feed.
func (s *Store) AddSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if sub.SubscriberID == 0 || strings.TrimSpace(sub.FeedURL) == "" {
		return Subscription{}, errors.New("storage: subscriber and feed url are required")
	}
	if !ValidLabel(sub.Display.Label) {
		return Subscription{}, ErrLabelTooLong
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(subscriber_id, feed_url, last_check, recent_digests,
			show_summary, show_date, show_link, label, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(subscriber_id, feed_url) DO NOTHING`,
		sub.SubscriberID, sub.FeedURL, toMillis(sub.LastCheck), EncodeDigests(sub.RecentDigests, 0),
		boolInt(sub.Display.Summary), boolInt(sub.Display.Date), boolInt(sub.Display.Link),
		nullStr(sub.Display.Label), toMillis(sub.CreatedAt),
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("storage: add subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Subscription{}, err
	}
	if n == 0 {
		return Subscription{}, ErrExists
	}
	if sub.ID, err = res.LastInsertId(); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, subscriberID int64, feedURL string) (Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_id = ? AND feed_url = ?`,
		subscriberID, feedURL)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

// ListSubscriptions returns every subscription ordered by id.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
}

func (s *Store) ListSubscriberSubscriptions(ctx context.Context, subscriberID int64) ([]Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_id = ? ORDER BY id`, subscriberID)
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ListSubscribers returns the distinct subscriber ids, ascending.
func (s *Store) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT subscriber_id FROM subscriptions ORDER BY subscriber_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list subscribers: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, subscriberID int64, feedURL string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = ? AND feed_url = ?`, subscriberID, feedURL)
	if err != nil {
		return fmt.Errorf("storage: delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubscriber removes every subscription of subscriberID and reports
// how many were removed. Deleting an unknown subscriber is not an error.
func (s *Store) DeleteSubscriber(ctx context.Context, subscriberID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber_id = ?`, subscriberID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete subscriber: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ToggleDisplay flips one display flag and returns its new value.
func (s *Store) ToggleDisplay(ctx context.Context, subscriberID int64, feedURL string, field DisplayField) (bool, error) {
	col, ok := field.column()
	if !ok {
		return false, fmt.Errorf("storage: unknown display field %q", field)
	}
	var v int
	err := s.db.QueryRowContext(ctx,
		`UPDATE subscriptions SET `+col+` = 1 - `+col+`
		 WHERE subscriber_id = ? AND feed_url = ?
		 RETURNING `+col,
		subscriberID, feedURL).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("storage: toggle %s: %w", field, err)
	}
	return v != 0, nil
}

// SetLabel sets (or with "" clears) the label of a subscription.
func (s *Store) SetLabel(ctx context.Context, subscriberID int64, feedURL, label string) error {
	label = strings.TrimSpace(label)
	if !ValidLabel(label) {
		return ErrLabelTooLong
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET label = ? WHERE subscriber_id = ? AND feed_url = ?`,
		nullStr(label), subscriberID, feedURL)
	if err != nil {
		return fmt.Errorf("storage: set label: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery persists the dedup state after posts were delivered.
// last_check never moves backwards; digests are stored as given (capped at limit).
func (s *Store) RecordDelivery(ctx context.Context, id int64, lastCheck time.Time, digests []string, limit int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_check = MAX(last_check, ?), recent_digests = ? WHERE id = ?`,
		toMillis(lastCheck), EncodeDigests(digests, limit), id)
	if err != nil {
		return fmt.Errorf("storage: record delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
