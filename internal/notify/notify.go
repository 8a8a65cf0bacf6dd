// Package notify delivers best-effort email and push notifications.
//
// Delivery never participates in the atomicity of the write that triggered
// it: a Fanout runs detached from the caller's context, reports a per-channel
// status (sent, skipped, failed, pending), and corrects the store only in one
// case, erasing a push token the provider reports as permanently invalid.
//
// Providers are abstracted behind the Email and Push interfaces so that the
// SMTP and Expo implementations in this package can be swapped for fakes in
// tests.
package notify

import (
	"context"
)

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Status is the disposition of one channel for one event.
type Status string

const (
	// StatusSent means the provider accepted the notification.
	StatusSent Status = "sent"
	// StatusSkipped means the recipient opted out or has no address/token.
	StatusSkipped Status = "skipped"
	// StatusFailed means the provider was called and reported an error or
	// did not answer within the timeout.
	StatusFailed Status = "failed"
	// StatusPending means the channel had not resolved when the caller
	// stopped waiting. Delivery continues in the background.
	StatusPending Status = "pending"
)

// ChannelResult is the status of a single channel plus a short reason for
// skipped and failed outcomes.
type ChannelResult struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Outcome aggregates both channels of one event.
type Outcome struct {
	Email ChannelResult `json:"email"`
	Push  ChannelResult `json:"push"`

	// TokenErased is set when the push token was removed from the user.
	TokenErased bool `json:"token_erased,omitempty"`
}

// EmailSent reports whether the email channel resolved as sent.
func (o Outcome) EmailSent() bool { return o.Email.Status == StatusSent }

// PushSent reports whether the push channel resolved as sent.
func (o Outcome) PushSent() bool { return o.Push.Status == StatusSent }

// Recipient carries the contact data and preferences of the notified user.
type Recipient struct {
	UserID     int64
	Name       string
	Email      string
	PushToken  string
	WantsEmail bool
	WantsPush  bool
}

// Event is one logical notification addressed to a single recipient.
type Event struct {
	// Kind is a short label used in logs and metrics ("prayer", "request_created").
	Kind      string
	RequestID int64
	Recipient Recipient

	// Cc lists extra email addresses. Addresses also present in To are dropped.
	Cc []string

	// Mail is rendered with the Fanout's Renderer. Mail.Title doubles as the subject.
	Mail Content

	PushTitle string
	PushBody  string
	PushData  map[string]any
}

// Email sends a single message. Implementations must honour ctx deadlines.
type Email interface {
	Send(ctx context.Context, msg Message) error
}

// Push submits a notification and later exchanges the ticket for a receipt.
//
// Receipt returns (nil, nil) when the provider has no receipt for the ticket
// yet.
type Push interface {
	Submit(ctx context.Context, msg PushMessage) (Ticket, error)
	Receipt(ctx context.Context, ticketID string) (*Receipt, error)
}

// TokenEraser removes token from userID, but only while it is still the
// user's current token. It reports whether a row changed.
type TokenEraser func(ctx context.Context, userID int64, token string) (bool, error)
