package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// BroadcastInput is a single email sent individually to many recipients.
type BroadcastInput struct {
	Subject    string
	HTML       string
	Text       string
	Recipients []string
}

// BroadcastFailure records one recipient that could not be reached.
type BroadcastFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// BroadcastResult aggregates a broadcast. Sent+Failed equals Total unless
// the broadcast was cancelled.
type BroadcastResult struct {
	Total    int                `json:"total"`
	Sent     int                `json:"sent"`
	Failed   int                `json:"failed"`
	Failures []BroadcastFailure `json:"failures,omitempty"`
}

// Broadcaster sends one message per recipient and pauses at least Interval
// after each send, failed or not, before starting the next one.
type Broadcaster struct {
	Email    Email
	Interval time.Duration
	// Timeout bounds each send. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Send walks in.Recipients in order. A failed recipient is recorded and the
// walk continues. It returns ctx.Err() with the partial result when ctx ends
// before every recipient was attempted.
func (b *Broadcaster) Send(ctx context.Context, in BroadcastInput) (BroadcastResult, error) {
	res := BroadcastResult{Total: len(in.Recipients)}
	if b.Email == nil {
		return res, ErrNoProvider
	}

	var next time.Time
	for i, rcpt := range in.Recipients {
		if i > 0 {
			if wait := time.Until(next); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return res, ctx.Err()
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := b.sendOne(ctx, rcpt, in)
		next = time.Now().Add(b.Interval)
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, BroadcastFailure{Recipient: rcpt, Error: err.Error()})
			broadcastSends.WithLabelValues(string(StatusFailed)).Inc()
			log.Warn().Err(err).Str("recipient", rcpt).Msg("broadcast send failed")
			continue
		}
		res.Sent++
		broadcastSends.WithLabelValues(string(StatusSent)).Inc()
	}

	log.Info().
		Int("total", res.Total).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("broadcast finished")
	return res, nil
}

func (b *Broadcaster) sendOne(ctx context.Context, rcpt string, in BroadcastInput) error {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	return b.Email.Send(ctx, Message{To: []string{rcpt}, Subject: in.Subject, HTML: in.HTML, Text: in.Text})
}
