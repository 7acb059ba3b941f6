package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	logx "feedbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "feedbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDigestsEncoding(t *testing.T) {
	t.Parallel()
	in := []string{"a1", "b2", "c3"}
	enc := EncodeDigests(in, 0)
	if enc != "a1 /// b2 /// c3" {
		t.Fatalf("EncodeDigests() = %q", enc)
	}
	if diff := cmp.Diff(in, DecodeDigests(enc)); diff != "" {
		t.Fatalf("DecodeDigests mismatch (-want +got):\n%s", diff)
	}
	if got := DecodeDigests(" "); len(got) != 0 {
		t.Fatalf("DecodeDigests(blank) = %q", got)
	}

	many := make([]string, 60)
	for i := range many {
		many[i] = fmt.Sprintf("d%02d", i)
	}
	if got := DecodeDigests(EncodeDigests(many, 0)); len(got) != MaxDigests || got[0] != "d00" {
		t.Fatalf("cap: len=%d first=%q", len(got), got[0])
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	sub, err := st.AddSubscription(ctx, Subscription{SubscriberID: 7, FeedURL: "https://example.org/feed", Display: DefaultDisplay()})
	if err != nil {
		t.Fatalf("AddSubscription() error: %v", err)
	}
	if sub.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	if _, err := st.AddSubscription(ctx, Subscription{SubscriberID: 7, FeedURL: "https://example.org/feed"}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate AddSubscription() = %v, want ErrExists", err)
	}
	if _, err := st.AddSubscription(ctx, Subscription{SubscriberID: 8, FeedURL: "https://example.org/feed"}); err != nil {
		t.Fatalf("second subscriber error: %v", err)
	}

	got, err := st.GetSubscription(ctx, 7, "https://example.org/feed")
	if err != nil {
		t.Fatalf("GetSubscription() error: %v", err)
	}
	if !got.Display.Summary || !got.Display.Date || !got.Display.Link || !got.LastCheck.IsZero() {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	v, err := st.ToggleDisplay(ctx, 7, "https://example.org/feed", FieldDate)
	if err != nil || v {
		t.Fatalf("ToggleDisplay() = %v, %v; want false", v, err)
	}
	if v, _ = st.ToggleDisplay(ctx, 7, "https://example.org/feed", FieldDate); !v {
		t.Fatal("second toggle should restore true")
	}
	if _, err := st.ToggleDisplay(ctx, 7, "https://nope", FieldLink); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ToggleDisplay(missing) = %v", err)
	}

	if err := st.SetLabel(ctx, 7, "https://example.org/feed", "news"); err != nil {
		t.Fatalf("SetLabel() error: %v", err)
	}
	if err := st.SetLabel(ctx, 7, "https://example.org/feed", strings.Repeat("я", MaxLabelRunes+1)); !errors.Is(err, ErrLabelTooLong) {
		t.Fatalf("SetLabel(long) = %v", err)
	}
	got, _ = st.GetSubscription(ctx, 7, "https://example.org/feed")
	if got.Display.Label != "news" {
		t.Fatalf("label = %q", got.Display.Label)
	}

	subs, err := st.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("ListSubscribers() error: %v", err)
	}
	if diff := cmp.Diff([]int64{7, 8}, subs); diff != "" {
		t.Fatalf("ListSubscribers mismatch (-want +got):\n%s", diff)
	}

	if err := st.DeleteSubscription(ctx, 8, "https://example.org/feed"); err != nil {
		t.Fatalf("DeleteSubscription() error: %v", err)
	}
	if err := st.DeleteSubscription(ctx, 8, "https://example.org/feed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteSubscription() = %v", err)
	}
	n, err := st.DeleteSubscriber(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("DeleteSubscriber() = %d, %v", n, err)
	}
	if n, err = st.DeleteSubscriber(ctx, 7); err != nil || n != 0 {
		t.Fatalf("repeated DeleteSubscriber() = %d, %v", n, err)
	}
	all, _ := st.ListSubscriptions(ctx)
	if len(all) != 0 {
		t.Fatalf("expected no subscriptions, got %d", len(all))
	}
}

func TestRecordDeliveryNeverMovesBack(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	sub, err := st.AddSubscription(ctx, Subscription{SubscriberID: 1, FeedURL: "https://a/feed"})
	if err != nil {
		t.Fatalf("AddSubscription() error: %v", err)
	}
	t2 := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)

	if err := st.RecordDelivery(ctx, sub.ID, t2, []string{"b", "a"}, 0); err != nil {
		t.Fatalf("RecordDelivery() error: %v", err)
	}
	if err := st.RecordDelivery(ctx, sub.ID, t1, []string{"c", "b", "a"}, 0); err != nil {
		t.Fatalf("RecordDelivery() error: %v", err)
	}
	got, _ := st.GetSubscription(ctx, 1, "https://a/feed")
	if !got.LastCheck.Equal(t2) {
		t.Fatalf("LastCheck = %v, want %v", got.LastCheck, t2)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, got.RecentDigests); diff != "" {
		t.Fatalf("digests mismatch (-want +got):\n%s", diff)
	}
	if err := st.RecordDelivery(ctx, 9999, t2, nil, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordDelivery(missing) = %v", err)
	}
}

func TestInboundFIFO(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"E1", "E2", "E3"} {
		if _, err := st.EnqueueInbound(ctx, []byte(p)); err != nil {
			t.Fatalf("EnqueueInbound() error: %v", err)
		}
	}
	if n, _ := st.InboundLen(ctx); n != 3 {
		t.Fatalf("InboundLen() = %d", n)
	}

	var got []string
	for {
		ev, ok, err := st.PopInbound(ctx)
		if err != nil {
			t.Fatalf("PopInbound() error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(ev.Payload))
	}
	if diff := cmp.Diff([]string{"E1", "E2", "E3"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if n, _ := st.InboundLen(ctx); n != 0 {
		t.Fatalf("InboundLen() after drain = %d", n)
	}
}

func TestInboundSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "feedbot.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := st.EnqueueInbound(ctx, []byte("pending")); err != nil {
		t.Fatalf("EnqueueInbound() error: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st.Close()
	ev, ok, err := st.PopInbound(ctx)
	if err != nil || !ok || string(ev.Payload) != "pending" {
		t.Fatalf("PopInbound() = %q, %v, %v", ev.Payload, ok, err)
	}
}

func TestBannedOrigins(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if banned, _ := st.IsBanned(ctx, "10.0.0.1"); banned {
		t.Fatal("fresh origin should not be banned")
	}
	if err := st.BanOrigin(ctx, "10.0.0.1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("BanOrigin() error: %v", err)
	}
	if banned, _ := st.IsBanned(ctx, "10.0.0.1"); !banned {
		t.Fatal("origin should be banned")
	}
	if err := st.BanOrigin(ctx, "10.0.0.2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("BanOrigin() error: %v", err)
	}
	if banned, _ := st.IsBanned(ctx, "10.0.0.2"); banned {
		t.Fatal("expired ban should not apply")
	}
}
