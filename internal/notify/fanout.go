package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Fanout dispatches an Event to the email and push channels on a detached
// goroutine. The triggering request may finish, or its client may
// disconnect, without cancelling delivery.
//
// The zero value is usable: with no providers both channels are skipped.
type Fanout struct {
	Email      Email
	Push       Push
	Renderer   *Renderer
	EraseToken TokenEraser

	// Timeout bounds every provider call. Zero means no bound.
	Timeout time.Duration
	// ReceiptDelay is the pause between a push submission and the receipt poll.
	ReceiptDelay time.Duration

	wg sync.WaitGroup
}

// Delivery is the handle for one in-flight Event.
type Delivery struct {
	submitted chan struct{}
	done      chan struct{}

	mu      sync.Mutex
	outcome Outcome
}

func newDelivery() *Delivery {
	return &Delivery{
		submitted: make(chan struct{}),
		done:      make(chan struct{}),
		outcome: Outcome{
			Email: ChannelResult{Status: StatusPending},
			Push:  ChannelResult{Status: StatusPending},
		},
	}
}

// Submitted is closed once both channels have a submit-phase outcome.
func (d *Delivery) Submitted() <-chan struct{} { return d.submitted }

// Done is closed once delivery, including the push receipt poll, is over.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Result returns a snapshot of the current outcome.
func (d *Delivery) Result() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome
}

// Wait blocks until the submit phase ends or timeout elapses, whichever
// comes first, and returns the snapshot at that moment. Channels that have
// not resolved read as StatusPending.
func (d *Delivery) Wait(timeout time.Duration) Outcome {
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-d.submitted:
		case <-t.C:
		}
	}
	return d.Result()
}

func (d *Delivery) set(ch Channel, r ChannelResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch ch {
	case ChannelEmail:
		d.outcome.Email = r
	case ChannelPush:
		d.outcome.Push = r
	}
}

func (d *Delivery) markErased() {
	d.mu.Lock()
	d.outcome.TokenErased = true
	d.mu.Unlock()
}

// Notify starts delivering ev and returns immediately.
func (f *Fanout) Notify(ctx context.Context, ev Event) *Delivery {
	d := newDelivery()
	detached := context.WithoutCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(d.done)
		f.deliver(detached, ev, d)
	}()
	return d
}

// Drain waits for every in-flight delivery, or for ctx to end.
func (f *Fanout) Drain(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fanout) deliver(ctx context.Context, ev Event, d *Delivery) {
	var (
		wg     sync.WaitGroup
		ticket Ticket
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.set(ChannelEmail, f.sendEmail(ctx, ev))
	}()
	go func() {
		defer wg.Done()
		var res ChannelResult
		res, ticket = f.submitPush(ctx, ev, d)
		d.set(ChannelPush, res)
	}()
	wg.Wait()
	close(d.submitted)

	if ticket.ID != "" {
		f.confirmPush(ctx, ev, ticket, d)
	}

	out := d.Result()
	notificationsTotal.WithLabelValues(string(ChannelEmail), string(out.Email.Status)).Inc()
	notificationsTotal.WithLabelValues(string(ChannelPush), string(out.Push.Status)).Inc()

	log.Info().
		Str("kind", ev.Kind).
		Int64("request_id", ev.RequestID).
		Int64("user_id", ev.Recipient.UserID).
		Str("email_status", string(out.Email.Status)).
		Str("email_reason", out.Email.Reason).
		Str("push_status", string(out.Push.Status)).
		Str("push_reason", out.Push.Reason).
		Bool("token_erased", out.TokenErased).
		Msg("notification delivered")
}

func (f *Fanout) sendEmail(ctx context.Context, ev Event) ChannelResult {
	r := ev.Recipient
	switch {
	case !r.WantsEmail:
		return skipped("email notifications disabled")
	case r.Email == "":
		return skipped("no email address")
	case f.Email == nil:
		return skipped("email provider not configured")
	}

	renderer := f.Renderer
	if renderer == nil {
		renderer = NewRenderer("")
	}
	html, text, err := renderer.Render(ev.Mail)
	if err != nil {
		return failed(err)
	}
	msg := Message{To: []string{r.Email}, Cc: ev.Cc, Subject: ev.Mail.Title, HTML: html, Text: text}

	err = f.bounded(ctx, func(cctx context.Context) error {
		return f.Email.Send(cctx, msg)
	})
	if err != nil {
		return failed(err)
	}
	return ChannelResult{Status: StatusSent}
}

func (f *Fanout) submitPush(ctx context.Context, ev Event, d *Delivery) (ChannelResult, Ticket) {
	r := ev.Recipient
	switch {
	case !r.WantsPush:
		return skipped("push notifications disabled"), Ticket{}
	case r.PushToken == "":
		return skipped("no push token"), Ticket{}
	case f.Push == nil:
		return skipped("push provider not configured"), Ticket{}
	}

	msg := PushMessage{To: r.PushToken, Title: ev.PushTitle, Body: ev.PushBody, Data: ev.PushData}
	var ticket Ticket
	err := f.bounded(ctx, func(cctx context.Context) error {
		t, err := f.Push.Submit(cctx, msg)
		ticket = t
		return err
	})
	if err != nil {
		if IsPermanent(err) {
			f.erase(ctx, ev, d)
		}
		return failed(err), Ticket{}
	}
	return ChannelResult{Status: StatusSent}, ticket
}

// confirmPush polls the receipt once after ReceiptDelay. A missing receipt
// or a failed poll leaves the channel as sent.
func (f *Fanout) confirmPush(ctx context.Context, ev Event, ticket Ticket, d *Delivery) {
	if f.ReceiptDelay > 0 {
		t := time.NewTimer(f.ReceiptDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	var rec *Receipt
	err := f.bounded(ctx, func(cctx context.Context) error {
		r, err := f.Push.Receipt(cctx, ticket.ID)
		rec = r
		return err
	})
	switch {
	case err != nil:
		log.Warn().Err(err).Str("ticket", ticket.ID).Int64("user_id", ev.Recipient.UserID).Msg("push receipt poll failed")
		return
	case rec == nil:
		log.Debug().Str("ticket", ticket.ID).Msg("push receipt not available; assuming delivered")
		return
	}

	if rerr := rec.Err(); rerr != nil {
		if IsPermanent(rerr) {
			f.erase(ctx, ev, d)
		}
		d.set(ChannelPush, failed(rerr))
	}
}

func (f *Fanout) erase(ctx context.Context, ev Event, d *Delivery) {
	if f.EraseToken == nil {
		return
	}
	var erased bool
	err := f.bounded(ctx, func(cctx context.Context) error {
		ok, err := f.EraseToken(cctx, ev.Recipient.UserID, ev.Recipient.PushToken)
		erased = ok
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", ev.Recipient.UserID).Msg("erase push token")
		return
	}
	if erased {
		pushTokensErased.Inc()
		d.markErased()
	}
}

// bounded runs fn with the per-call timeout and returns when fn does or the
// deadline passes, whichever is first. If fn ignores its context it keeps
// running and its result is discarded.
func (f *Fanout) bounded(ctx context.Context, fn func(context.Context) error) error {
	var (
		cctx   context.Context
		cancel context.CancelFunc
	)
	if f.Timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, f.Timeout)
	} else {
		cctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()
	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

func skipped(reason string) ChannelResult {
	return ChannelResult{Status: StatusSkipped, Reason: reason}
}

func failed(err error) ChannelResult {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	return ChannelResult{Status: StatusFailed, Reason: reason}
}
