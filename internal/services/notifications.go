package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/sysutil"
)

// Notifier starts an asynchronous delivery. *notify.Fanout implements it.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) *notify.Delivery
}

const (
	eventPrayer         = "prayer"
	eventRequestCreated = "request_created"

	quoteMaxRunes = 280
)

// displayName prefers the real name and falls back to the handle.
func displayName(u domain.User) string {
	name := strings.TrimSpace(sysutil.FirstNonEmpty(u.RealName, u.UserName))
	if name == "" {
		return "Someone"
	}
	// A Caser keeps state, so one is built per call.
	return cases.Title(language.Und, cases.NoLower).String(name)
}

func recipientOf(u domain.User) notify.Recipient {
	r := notify.Recipient{
		UserID:     u.ID,
		Name:       displayName(u),
		Email:      strings.TrimSpace(u.Email),
		WantsEmail: u.PrayerEmails && u.Active,
		WantsPush:  u.PushNotifications && u.Active,
	}
	if u.HasPushToken() {
		r.PushToken = *u.FCMToken
	}
	return r
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func requestLink(base string, id int64) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/requests/%d", base, id)
}

func prayerEvent(pc *repo.PrayerContext, baseURL string) notify.Event {
	who := displayName(pc.Requester)
	return notify.Event{
		Kind:      eventPrayer,
		RequestID: pc.Request.ID,
		Recipient: recipientOf(pc.Owner),
		Mail: notify.Content{
			Title:      "Someone prayed for your request",
			Intro:      fmt.Sprintf("%s prayed for your request \"%s\".", who, pc.Request.Title),
			Quote:      clip(pc.Request.Text, quoteMaxRunes),
			ButtonText: "View your request",
			ButtonURL:  requestLink(baseURL, pc.Request.ID),
		},
		PushTitle: "New prayer",
		PushBody:  fmt.Sprintf("%s prayed for your request", who),
		PushData: map[string]any{
			"type":       eventPrayer,
			"request_id": pc.Request.ID,
		},
	}
}

func requestCreatedEvent(author domain.User, req *domain.PrayerRequest, prayer string, baseURL string) notify.Event {
	intro := fmt.Sprintf("Your prayer request \"%s\" is now shared with the community.", req.Title)
	if prayer != "" {
		intro += " Here is a prayer written for you:"
	}
	return notify.Event{
		Kind:      eventRequestCreated,
		RequestID: req.ID,
		Recipient: recipientOf(author),
		Mail: notify.Content{
			Title:      "Your prayer request was posted",
			Intro:      intro,
			Quote:      prayer,
			ButtonText: "View your request",
			ButtonURL:  requestLink(baseURL, req.ID),
		},
		PushTitle: "Request posted",
		PushBody:  clip(req.Title, 100),
		PushData: map[string]any{
			"type":       eventRequestCreated,
			"request_id": req.ID,
		},
	}
}
