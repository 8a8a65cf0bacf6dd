// Package services – PrayerService
//
// This file implements the Prayer Recorder. Record inserts the
// (request, user) fact with a conditional INSERT and lets the unique index
// ux_user_request arbitrate concurrent callers; the constraint violation is
// the authoritative "already prayed" signal. Only after the transaction
// commits does it read the owner/requester context and hand a notification
// to the fan-out, so no notification is ever sent for an unrecorded prayer.
//
// Observability: Record is OpenTelemetry-instrumented; the span carries the
// request and user identifiers and the resulting channel statuses.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PrayerOutcome is returned for a recorded prayer.
type PrayerOutcome struct {
	RequestID    int64          `json:"request_id"`
	UserID       int64          `json:"user_id"`
	PrayerCount  int64          `json:"prayer_count"`
	EmailSent    bool           `json:"emailSent"`
	PushSent     bool           `json:"pushSent"`
	Notification notify.Outcome `json:"notification"`

	// Delivery tracks the background notification; nil when nothing was sent.
	Delivery *notify.Delivery `json:"-"`
}

// PrayerService records prayers and notifies request owners.
type PrayerService struct {
	DB       *gorm.DB
	Notifier Notifier

	// NotifyWait bounds how long Record waits for submit-phase outcomes.
	NotifyWait time.Duration
	// AppBaseURL is used for links in notification emails.
	AppBaseURL string

	now func() time.Time
}

func (s *PrayerService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// postCommitTimeout bounds the reads and hand-offs that follow a committed
// write.
const postCommitTimeout = 10 * time.Second

// detached returns a context for work that must run to completion whatever
// happens to the caller's context, bounded by d. Values such as the active
// span are kept.
func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// Record notes that userID prayed for requestID.
//
// Errors:
//   - ErrInvalidInput for non-positive ids.
//   - ErrUserNotFound when the requester does not exist or is inactive.
//   - ErrRequestNotFound when the request does not exist or is inactive;
//     nothing is inserted.
//   - ErrAlreadyPrayed when the pair was recorded before.
//   - Underlying store errors otherwise.
//
// Notification failures never turn into an error: the outcome reports them
// per channel while the prayer stays recorded.
func (s *PrayerService) Record(ctx context.Context, requestID, userID int64) (*PrayerOutcome, error) {
	tr := otel.Tracer("services/PrayerService")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(
			attribute.Int64("request.id", requestID),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	if requestID <= 0 || userID <= 0 {
		return nil, ErrInvalidInput
	}

	ok, err := repo.UserExists(ctx, s.DB, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.InsertPrayerRecord(ctx, tx, requestID, userID, s.clock())
	})
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		return nil, ErrAlreadyPrayed
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrRequestNotFound
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "record prayer")
		return nil, fmt.Errorf("record prayer: %w", err)
	}

	out := &PrayerOutcome{RequestID: requestID, UserID: userID}

	// The prayer is committed. A client that hangs up now must not cost the
	// owner their notification.
	ctx, cancel := detached(ctx, postCommitTimeout)
	defer cancel()

	pc, err := repo.GetPrayerContext(ctx, s.DB, requestID, userID)
	if err != nil {
		// The prayer is committed; only the notification is lost.
		log.Error().Err(err).Int64("request_id", requestID).Int64("user_id", userID).Msg("prayer recorded but enrichment failed")
		reason := notify.ChannelResult{Status: notify.StatusFailed, Reason: "recipient lookup failed"}
		out.Notification = notify.Outcome{Email: reason, Push: reason}
		return out, nil
	}
	out.PrayerCount = pc.Request.PrayerCount

	if pc.Owner.ID == userID {
		own := notify.ChannelResult{Status: notify.StatusSkipped, Reason: "own request"}
		out.Notification = notify.Outcome{Email: own, Push: own}
		return out, nil
	}

	if s.Notifier == nil {
		off := notify.ChannelResult{Status: notify.StatusSkipped, Reason: "notifications disabled"}
		out.Notification = notify.Outcome{Email: off, Push: off}
		return out, nil
	}

	d := s.Notifier.Notify(ctx, prayerEvent(pc, s.AppBaseURL))
	out.Delivery = d
	out.Notification = d.Wait(s.NotifyWait)
	out.EmailSent = out.Notification.EmailSent()
	out.PushSent = out.Notification.PushSent()

	span.SetAttributes(
		attribute.String("notify.email", string(out.Notification.Email.Status)),
		attribute.String("notify.push", string(out.Notification.Push.Status)),
	)
	return out, nil
}
