// Package services – RequestService
//
// This file implements prayer-request creation behind the idempotency
// guard, plus the read side (single request and the active feed).
//
// Creation order: validate → guard Begin → insert → optional picture upload
// → optional generated prayer → guard Complete → notify the author. Once
// the row is committed the operation counts as succeeded: picture and
// prayer failures are logged and reported as missing enrichment, and the
// key is never released for a retry that would insert a second request.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/prayergen"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/storage"
	"github.com/tbourn/go-prayer-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxTitleRunes = 255
	defaultMaxTextRunes  = 4000
	defaultPageSize      = 20
	maxPageSize          = 100
	prayerGenTimeout     = 20 * time.Second
	guardReleaseTimeout  = 5 * time.Second
)

// ImageUploader stores an image and returns its public URL.
// *storage.ImageStore implements it.
type ImageUploader interface {
	Put(ctx context.Context, category storage.Category, data []byte) (string, error)
}

// CreateRequestInput is the validated input of Create.
type CreateRequestInput struct {
	UserID         int64
	Title          string
	Text           string
	IdempotencyKey string
	Picture        []byte // optional
}

// CreateRequestResult describes a created request and its side effects.
type CreateRequestResult struct {
	Request      *domain.PrayerRequest `json:"request"`
	Prayer       *domain.Prayer        `json:"prayer,omitempty"`
	EmailSent    bool                  `json:"emailSent"`
	PushSent     bool                  `json:"pushSent"`
	Notification notify.Outcome        `json:"notification"`

	Delivery *notify.Delivery `json:"-"`
}

// RequestView is a request with its generated prayer, if any.
type RequestView struct {
	Request *domain.PrayerRequest `json:"request"`
	Prayer  *domain.Prayer        `json:"prayer,omitempty"`
}

// RequestService coordinates request creation and reads.
type RequestService struct {
	DB       *gorm.DB
	Guard    Guard
	Images   ImageUploader    // nil disables pictures
	Writer   prayergen.Writer // nil disables generated prayers
	Notifier Notifier         // nil disables notifications

	NotifyWait time.Duration
	AppBaseURL string

	MaxTitleRunes int
	MaxTextRunes  int
}

func (s *RequestService) limits() (title, text int) {
	title, text = s.MaxTitleRunes, s.MaxTextRunes
	if title <= 0 {
		title = defaultMaxTitleRunes
	}
	if text <= 0 {
		text = defaultMaxTextRunes
	}
	return title, text
}

// CreateRequestScope is the ledger scope of a user's request creations.
// Keys are unique per user, not globally.
func CreateRequestScope(userID int64) string {
	return fmt.Sprintf("request:create:%d", userID)
}

func (s *RequestService) validate(in *CreateRequestInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Text = strings.TrimSpace(in.Text)
	if in.UserID <= 0 || in.Title == "" || in.Text == "" {
		return ErrInvalidInput
	}
	maxTitle, maxText := s.limits()
	if utf8.RuneCountInString(in.Title) > maxTitle || utf8.RuneCountInString(in.Text) > maxText {
		return ErrTooLong
	}
	if len(in.Picture) > 0 {
		if s.Images == nil {
			return ErrStorageDisabled
		}
		if _, _, err := storage.Validate(in.Picture); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a prayer request exactly once per (user, idempotency key)
// within the key's lifetime.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*CreateRequestResult, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.Int64("user.id", in.UserID)),
	)
	defer span.End()

	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if s.Guard == nil {
		return nil, ErrGuardUnavailable
	}

	ok, err := repo.UserExists(ctx, s.DB, in.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	scope := CreateRequestScope(in.UserID)
	if err := s.Guard.Begin(ctx, scope, in.IdempotencyKey); err != nil {
		return nil, err
	}

	req, err := repo.CreateRequest(ctx, s.DB, in.UserID, in.Title, in.Text)
	if err != nil {
		rctx, cancel := detached(ctx, guardReleaseTimeout)
		cerr := s.Guard.Complete(rctx, scope, in.IdempotencyKey, OutcomeFailed)
		cancel()
		if cerr != nil {
			log.Error().Err(cerr).Str("scope", scope).Msg("release idempotency key")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("create request: %w", err)
	}
	span.SetAttributes(attribute.Int64("request.id", req.ID))

	res := &CreateRequestResult{Request: req}

	// The row is committed: enrichment, key completion and the author
	// notification run to the end even if the caller goes away.
	ctx, cancel := detached(ctx, prayerGenTimeout+postCommitTimeout)
	defer cancel()

	if len(in.Picture) > 0 {
		if url, err := s.Images.Put(ctx, storage.CategoryRequest, in.Picture); err != nil {
			log.Error().Err(err).Int64("request_id", req.ID).Msg("request picture upload failed")
		} else if err := repo.SetRequestPicture(ctx, s.DB, req.ID, url); err != nil {
			log.Error().Err(err).Int64("request_id", req.ID).Msg("store request picture")
		} else {
			req.Picture = &url
		}
	}

	res.Prayer = s.generatePrayer(ctx, req)

	if err := s.Guard.Complete(ctx, scope, in.IdempotencyKey, OutcomeSucceeded); err != nil {
		log.Error().Err(err).Str("scope", scope).Msg("complete idempotency key")
	}

	s.notifyAuthor(ctx, res)
	return res, nil
}

func (s *RequestService) generatePrayer(ctx context.Context, req *domain.PrayerRequest) *domain.Prayer {
	if s.Writer == nil {
		return nil
	}
	gctx, cancel := context.WithTimeout(ctx, prayerGenTimeout)
	defer cancel()

	text, model, err := s.Writer.Write(gctx, req.Title, req.Text)
	if err != nil {
		if errors.Is(err, prayergen.ErrDisabled) {
			return nil
		}
		log.Warn().Err(err).Int64("request_id", req.ID).Msg("prayer generation failed")
		return nil
	}
	p, err := repo.AttachPrayer(ctx, s.DB, req.ID, text, model)
	if err != nil {
		log.Error().Err(err).Int64("request_id", req.ID).Msg("store generated prayer")
		return nil
	}
	return p
}

func (s *RequestService) notifyAuthor(ctx context.Context, res *CreateRequestResult) {
	if s.Notifier == nil {
		off := notify.ChannelResult{Status: notify.StatusSkipped, Reason: "notifications disabled"}
		res.Notification = notify.Outcome{Email: off, Push: off}
		return
	}
	author, err := repo.GetUser(ctx, s.DB, res.Request.UserID)
	if err != nil {
		log.Error().Err(err).Int64("request_id", res.Request.ID).Msg("load request author")
		reason := notify.ChannelResult{Status: notify.StatusFailed, Reason: "recipient lookup failed"}
		res.Notification = notify.Outcome{Email: reason, Push: reason}
		return
	}
	var prayer string
	if res.Prayer != nil {
		prayer = res.Prayer.Text
	}
	d := s.Notifier.Notify(ctx, requestCreatedEvent(*author, res.Request, prayer, s.AppBaseURL))
	res.Delivery = d
	res.Notification = d.Wait(s.NotifyWait)
	res.EmailSent = res.Notification.EmailSent()
	res.PushSent = res.Notification.PushSent()
}

// Get returns an active request with its generated prayer.
func (s *RequestService) Get(ctx context.Context, id int64) (*RequestView, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	if id <= 0 {
		return nil, ErrInvalidInput
	}
	req, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if !req.Active {
		return nil, ErrRequestNotFound
	}
	view := &RequestView{Request: req}
	if p, err := repo.GetPrayer(ctx, s.DB, id); err == nil {
		view.Prayer = p
	} else if !repo.IsNotFound(err) {
		return nil, err
	}
	return view, nil
}

// ListPage returns a page of active requests, newest first, and the total.
func (s *RequestService) ListPage(ctx context.Context, page, pageSize int) ([]domain.PrayerRequest, int64, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	p := utils.ClampPage(page, pageSize, defaultPageSize, maxPageSize)

	total, err := repo.CountActiveRequests(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PrayerRequest{}, 0, nil
	}
	items, err := repo.ListActiveRequestsPage(ctx, s.DB, p.Offset(), p.Size)
	return items, total, err
}

// FeedVersion returns a weak ETag for the active feed. It changes whenever
// a request is created, edited, deactivated or prayed for.
func (s *RequestService) FeedVersion(ctx context.Context) (string, error) {
	count, prayers, maxTS, err := repo.ActiveRequestsStats(ctx, s.DB)
	if err != nil {
		return "", err
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"requests:%d:%d:%d"`, count, prayers, ts), nil
}

// SetPicture uploads an image for an existing request.
func (s *RequestService) SetPicture(ctx context.Context, id int64, data []byte) (string, error) {
	if s.Images == nil {
		return "", ErrStorageDisabled
	}
	if id <= 0 {
		return "", ErrInvalidInput
	}
	if _, _, err := storage.Validate(data); err != nil {
		return "", err
	}
	if _, err := repo.GetRequest(ctx, s.DB, id); err != nil {
		if repo.IsNotFound(err) {
			return "", ErrRequestNotFound
		}
		return "", err
	}
	url, err := s.Images.Put(ctx, storage.CategoryRequest, data)
	if err != nil {
		return "", err
	}
	if err := repo.SetRequestPicture(ctx, s.DB, id, url); err != nil {
		return "", err
	}
	return url, nil
}
