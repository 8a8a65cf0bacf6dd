package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ----- fakes -----

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Message
	starts []time.Time

	delay       time.Duration
	ignoreCtx   bool
	failOnIndex func(i int) error
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	i := len(m.starts)
	m.starts = append(m.starts, time.Now())
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.delay > 0 {
		if m.ignoreCtx {
			time.Sleep(m.delay)
		} else {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if m.failOnIndex != nil {
		return m.failOnIndex(i)
	}
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakePush struct {
	mu        sync.Mutex
	submitted []PushMessage
	receipts  int

	submitErr  error
	ticketID   string
	receipt    *Receipt
	receiptErr error
}

func (p *fakePush) Submit(ctx context.Context, msg PushMessage) (Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, msg)
	if p.submitErr != nil {
		return Ticket{}, p.submitErr
	}
	return Ticket{ID: p.ticketID}, nil
}

func (p *fakePush) Receipt(ctx context.Context, id string) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts++
	return p.receipt, p.receiptErr
}

type fakeEraser struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEraser) erase(ctx context.Context, userID int64, token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, token)
	return true, nil
}

func recipient() Recipient {
	return Recipient{
		UserID:     7,
		Name:       "Anna",
		Email:      "anna@example.org",
		PushToken:  "ExponentPushToken[abc]",
		WantsEmail: true,
		WantsPush:  true,
	}
}

func event(r Recipient) Event {
	return Event{
		Kind:      "prayer",
		RequestID: 42,
		Recipient: r,
		Mail:      Content{Title: "Someone prayed for you", Intro: "Ben prayed for your request."},
		PushTitle: "New prayer",
		PushBody:  "Ben prayed for your request",
	}
}

func waitDone(t *testing.T, d *Delivery) Outcome {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("delivery did not finish")
	}
	return d.Result()
}

// ----- tests -----

func TestFanout_SendsBothChannels(t *testing.T) {
	mailer := &fakeMailer{}
	push := &fakePush{ticketID: "tk-1"}
	f := &Fanout{Email: mailer, Push: push, Renderer: NewRenderer("Prayer Wall")}

	ev := event(recipient())
	ev.Cc = []string{"pastor@example.org"}
	out := waitDone(t, f.Notify(context.Background(), ev))

	if !out.EmailSent() || !out.PushSent() {
		t.Fatalf("expected both channels sent, got %+v", out)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.Subject != "Someone prayed for you" || msg.To[0] != "anna@example.org" || msg.Cc[0] != "pastor@example.org" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.Contains(msg.HTML, "Ben prayed for your request.") || !strings.Contains(msg.HTML, "Prayer Wall") {
		t.Fatalf("html body not rendered: %q", msg.HTML)
	}
	if len(push.submitted) != 1 || push.submitted[0].To != "ExponentPushToken[abc]" {
		t.Fatalf("unexpected push submissions: %+v", push.submitted)
	}
	if push.receipts != 1 {
		t.Fatalf("expected one receipt poll, got %d", push.receipts)
	}
}

func TestFanout_SkipsByPreferenceAndMissingContact(t *testing.T) {
	mailer := &fakeMailer{}
	push := &fakePush{ticketID: "tk"}
	f := &Fanout{Email: mailer, Push: push}

	r := recipient()
	r.WantsEmail = false
	r.PushToken = ""
	out := waitDone(t, f.Notify(context.Background(), event(r)))

	if out.Email.Status != StatusSkipped || out.Push.Status != StatusSkipped {
		t.Fatalf("expected both skipped, got %+v", out)
	}
	if out.Push.Reason != "no push token" {
		t.Fatalf("unexpected push reason %q", out.Push.Reason)
	}
	if mailer.count() != 0 || len(push.submitted) != 0 {
		t.Fatalf("providers must not be called for skipped channels")
	}

	r = recipient()
	r.WantsPush = false
	r.Email = ""
	out = waitDone(t, f.Notify(context.Background(), event(r)))
	if out.Email.Reason != "no email address" || out.Push.Reason != "push notifications disabled" {
		t.Fatalf("unexpected reasons: %+v", out)
	}
}

func TestFanout_NoProvidersSkips(t *testing.T) {
	var f Fanout
	out := waitDone(t, f.Notify(context.Background(), event(recipient())))
	if out.Email.Status != StatusSkipped || out.Push.Status != StatusSkipped {
		t.Fatalf("expected skipped without providers, got %+v", out)
	}
}

func TestFanout_PermanentSubmitErrorErasesToken(t *testing.T) {
	push := &fakePush{submitErr: &PushError{Code: CodeDeviceNotRegistered, Message: "gone"}}
	eraser := &fakeEraser{}
	f := &Fanout{Push: push, EraseToken: eraser.erase}

	before := testutil.ToFloat64(pushTokensErased)
	out := waitDone(t, f.Notify(context.Background(), event(recipient())))

	if out.Push.Status != StatusFailed || !out.TokenErased {
		t.Fatalf("expected failed push with erased token, got %+v", out)
	}
	if len(eraser.calls) != 1 || eraser.calls[0] != "ExponentPushToken[abc]" {
		t.Fatalf("unexpected erase calls: %+v", eraser.calls)
	}
	if push.receipts != 0 {
		t.Fatalf("no receipt poll after a rejected submission")
	}
	if got := testutil.ToFloat64(pushTokensErased); got != before+1 {
		t.Fatalf("push_tokens_erased_total: want %v got %v", before+1, got)
	}
}

func TestFanout_TransientSubmitErrorKeepsToken(t *testing.T) {
	for _, err := range []error{
		&PushError{Code: CodeMessageRateExceeded},
		&PushError{Code: CodeProviderUnavailable, StatusCode: 503},
		errors.New("connection reset by peer"),
	} {
		push := &fakePush{submitErr: err}
		eraser := &fakeEraser{}
		f := &Fanout{Push: push, EraseToken: eraser.erase}

		out := waitDone(t, f.Notify(context.Background(), event(recipient())))
		if out.Push.Status != StatusFailed || out.TokenErased {
			t.Fatalf("%v: expected failed without erase, got %+v", err, out)
		}
		if len(eraser.calls) != 0 {
			t.Fatalf("%v: transient error must not erase the token", err)
		}
	}
}

func TestFanout_ReceiptDeviceNotRegisteredErases(t *testing.T) {
	rec := &Receipt{Status: "error", Message: "not registered"}
	rec.Details.Error = CodeDeviceNotRegistered
	push := &fakePush{ticketID: "tk", receipt: rec}
	eraser := &fakeEraser{}
	f := &Fanout{Push: push, EraseToken: eraser.erase, ReceiptDelay: 5 * time.Millisecond}

	d := f.Notify(context.Background(), event(recipient()))
	<-d.Submitted()
	if got := d.Result().Push.Status; got != StatusSent {
		t.Fatalf("submit phase should report sent, got %s", got)
	}

	out := waitDone(t, d)
	if out.Push.Status != StatusFailed || !out.TokenErased || len(eraser.calls) != 1 {
		t.Fatalf("expected receipt failure to erase token, got %+v calls=%v", out, eraser.calls)
	}
}

func TestFanout_MissingReceiptIsTentativeSuccess(t *testing.T) {
	push := &fakePush{ticketID: "tk"}
	f := &Fanout{Push: push}
	out := waitDone(t, f.Notify(context.Background(), event(recipient())))
	if !out.PushSent() {
		t.Fatalf("missing receipt must read as sent, got %+v", out)
	}

	push = &fakePush{ticketID: "tk", receiptErr: errors.New("receipt endpoint down")}
	f = &Fanout{Push: push}
	out = waitDone(t, f.Notify(context.Background(), event(recipient())))
	if !out.PushSent() {
		t.Fatalf("failed receipt poll must read as sent, got %+v", out)
	}
}

func TestFanout_TimedOutProviderIsFailed(t *testing.T) {
	mailer := &fakeMailer{delay: 300 * time.Millisecond, ignoreCtx: true}
	f := &Fanout{Email: mailer, Timeout: 20 * time.Millisecond}

	start := time.Now()
	out := waitDone(t, f.Notify(context.Background(), event(recipient())))
	if out.Email.Status != StatusFailed || out.Email.Reason != "timeout" {
		t.Fatalf("expected timeout failure, got %+v", out)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("delivery waited on a hung provider")
	}
}

func TestFanout_SurvivesCallerCancellation(t *testing.T) {
	mailer := &fakeMailer{delay: 30 * time.Millisecond}
	f := &Fanout{Email: mailer, Timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	d := f.Notify(ctx, event(recipient()))
	cancel()

	out := waitDone(t, d)
	if !out.EmailSent() {
		t.Fatalf("client cancellation must not abort delivery, got %+v", out)
	}
}

func TestDelivery_WaitReportsPending(t *testing.T) {
	mailer := &fakeMailer{delay: 200 * time.Millisecond}
	f := &Fanout{Email: mailer}

	d := f.Notify(context.Background(), event(recipient()))
	early := d.Wait(10 * time.Millisecond)
	if early.Email.Status != StatusPending {
		t.Fatalf("expected pending email, got %+v", early)
	}
	if early.Push.Status != StatusSkipped {
		t.Fatalf("push without provider resolves immediately as skipped, got %+v", early.Push)
	}

	if err := f.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !d.Result().EmailSent() {
		t.Fatalf("expected email sent after drain, got %+v", d.Result())
	}
}

func TestFanout_DrainHonoursContext(t *testing.T) {
	mailer := &fakeMailer{delay: 300 * time.Millisecond}
	f := &Fanout{Email: mailer}
	f.Notify(context.Background(), event(recipient()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	_ = f.Drain(context.Background())
}
