package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBroadcaster_SpacingHoldsAcrossFailures(t *testing.T) {
	const (
		n        = 150
		interval = 4 * time.Millisecond
	)
	mailer := &fakeMailer{failOnIndex: func(i int) error {
		if i%15 == 7 {
			return errors.New("421 too many messages")
		}
		return nil
	}}
	b := &Broadcaster{Email: mailer, Interval: interval}

	rcpts := make([]string, n)
	for i := range rcpts {
		rcpts[i] = fmt.Sprintf("user%03d@example.org", i)
	}
	res, err := b.Send(context.Background(), BroadcastInput{Subject: "Weekly prayer list", HTML: "<p>hi</p>", Text: "hi", Recipients: rcpts})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Total != n || res.Sent+res.Failed != n || res.Failed != 10 || len(res.Failures) != 10 {
		t.Fatalf("unexpected result: total=%d sent=%d failed=%d", res.Total, res.Sent, res.Failed)
	}
	if len(mailer.starts) != n {
		t.Fatalf("every recipient must be attempted, got %d", len(mailer.starts))
	}
	for i := 1; i < n; i++ {
		if gap := mailer.starts[i].Sub(mailer.starts[i-1]); gap < interval {
			t.Fatalf("sends %d and %d only %v apart", i-1, i, gap)
		}
	}
	if res.Failures[0].Recipient != "user007@example.org" {
		t.Fatalf("unexpected first failure: %+v", res.Failures[0])
	}
}

func TestBroadcaster_CancelStopsWalk(t *testing.T) {
	mailer := &fakeMailer{}
	b := &Broadcaster{Email: mailer, Interval: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()
	res, err := b.Send(ctx, BroadcastInput{Subject: "s", Recipients: []string{"a@x", "b@x", "c@x", "d@x"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res.Sent >= 4 || res.Sent == 0 {
		t.Fatalf("expected a partial walk, got %+v", res)
	}
}

func TestBroadcaster_NoProvider(t *testing.T) {
	var b Broadcaster
	if _, err := b.Send(context.Background(), BroadcastInput{Recipients: []string{"a@x"}}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
