// Package services – BroadcastService
//
// Bulk email to every active user who opted into prayer emails. Throttling
// and per-recipient isolation live in notify.Broadcaster; this service
// resolves recipients, renders the body and runs the walk either inline or
// detached from the caller.
package services

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/repo"
)

// BroadcastSender sends one message to many recipients.
// *notify.Broadcaster implements it.
type BroadcastSender interface {
	Send(ctx context.Context, in notify.BroadcastInput) (notify.BroadcastResult, error)
}

// BroadcastMessage is the content of a broadcast. When HTML is empty the
// body is rendered from Subject and Body with the standard template.
type BroadcastMessage struct {
	Subject string
	Body    string
	HTML    string
	Text    string
}

// BroadcastService resolves recipients and runs broadcasts.
type BroadcastService struct {
	DB       *gorm.DB
	Sender   BroadcastSender
	Renderer *notify.Renderer

	wg sync.WaitGroup
}

func (s *BroadcastService) prepare(ctx context.Context, msg BroadcastMessage) (notify.BroadcastInput, error) {
	msg.Subject = strings.TrimSpace(msg.Subject)
	if msg.Subject == "" || (strings.TrimSpace(msg.Body) == "" && strings.TrimSpace(msg.HTML) == "") {
		return notify.BroadcastInput{}, ErrInvalidInput
	}
	if s.Sender == nil {
		return notify.BroadcastInput{}, ErrMailDisabled
	}

	in := notify.BroadcastInput{Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text}
	if in.HTML == "" {
		r := s.Renderer
		if r == nil {
			r = notify.NewRenderer("")
		}
		html, text, err := r.Render(notify.Content{Title: msg.Subject, Intro: strings.TrimSpace(msg.Body)})
		if err != nil {
			return notify.BroadcastInput{}, err
		}
		in.HTML, in.Text = html, text
	}

	users, err := repo.ListEmailRecipients(ctx, s.DB)
	if err != nil {
		return notify.BroadcastInput{}, err
	}
	in.Recipients = make([]string, 0, len(users))
	for _, u := range users {
		in.Recipients = append(in.Recipients, u.Email)
	}
	in.Recipients, _ = notify.NormalizeRecipients(in.Recipients, nil)
	return in, nil
}

// Send runs the broadcast to completion and returns the aggregate counts.
func (s *BroadcastService) Send(ctx context.Context, msg BroadcastMessage) (notify.BroadcastResult, error) {
	in, err := s.prepare(ctx, msg)
	if err != nil {
		return notify.BroadcastResult{}, err
	}
	return s.Sender.Send(ctx, in)
}

// Start resolves recipients synchronously, then runs the walk in the
// background, detached from ctx. It returns a job id used in the logs and
// the recipient count.
func (s *BroadcastService) Start(ctx context.Context, msg BroadcastMessage) (string, int, error) {
	in, err := s.prepare(ctx, msg)
	if err != nil {
		return "", 0, err
	}
	jobID := uuid.NewString()
	bg := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.Sender.Send(bg, in)
		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("job_id", jobID).
			Int("total", res.Total).
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Msg("broadcast job finished")
	}()
	return jobID, len(in.Recipients), nil
}

// Wait blocks until every started broadcast has finished.
func (s *BroadcastService) Wait() { s.wg.Wait() }
