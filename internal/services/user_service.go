// Package services – UserService
//
// Registration, profile reads and the notification settings the fan-out
// depends on: push token, channel preferences and profile picture.
package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/storage"
)

// RegisterInput carries registration fields. Nil preferences default to true.
type RegisterInput struct {
	UserName          string
	RealName          string
	Email             string
	PushNotifications *bool
	PrayerEmails      *bool
}

// UserService manages user accounts.
type UserService struct {
	DB     *gorm.DB
	Images ImageUploader
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Register creates an active user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.UserName = strings.TrimSpace(in.UserName)
	in.RealName = strings.TrimSpace(in.RealName)
	in.Email = strings.TrimSpace(in.Email)
	if in.UserName == "" || len(in.UserName) > 64 {
		return nil, ErrInvalidInput
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	u := &domain.User{
		UserName:          in.UserName,
		RealName:          in.RealName,
		Email:             in.Email,
		PushNotifications: boolOr(in.PushNotifications, true),
		PrayerEmails:      boolOr(in.PrayerEmails, true),
		Active:            true,
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserNameTaken
		}
		return nil, err
	}
	return u, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// RegisterPushToken stores the device's push token.
func (s *UserService) RegisterPushToken(ctx context.Context, id int64, token string) error {
	token = strings.TrimSpace(token)
	if id <= 0 || token == "" || len(token) > 255 {
		return ErrInvalidInput
	}
	return notFoundAs(repo.UpdatePushToken(ctx, s.DB, id, token), ErrUserNotFound)
}

// UpdatePreferences changes the non-nil channel opt-ins.
func (s *UserService) UpdatePreferences(ctx context.Context, id int64, push, email *bool) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	return notFoundAs(repo.UpdatePreferences(ctx, s.DB, id, push, email), ErrUserNotFound)
}

// ErasePushToken clears token from the user if it is still current. It has
// the notify.TokenEraser signature.
func (s *UserService) ErasePushToken(ctx context.Context, id int64, token string) (bool, error) {
	return repo.ClearPushToken(ctx, s.DB, id, token)
}

// SetPicture uploads a profile picture and stores its URL.
func (s *UserService) SetPicture(ctx context.Context, id int64, data []byte) (string, error) {
	if s.Images == nil {
		return "", ErrStorageDisabled
	}
	if id <= 0 {
		return "", ErrInvalidInput
	}
	if _, _, err := storage.Validate(data); err != nil {
		return "", err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	url, err := s.Images.Put(ctx, storage.CategoryProfile, data)
	if err != nil {
		return "", err
	}
	if err := repo.SetUserPicture(ctx, s.DB, id, url); err != nil {
		return "", notFoundAs(err, ErrUserNotFound)
	}
	return url, nil
}

func notFoundAs(err, target error) error {
	if err != nil && repo.IsNotFound(err) {
		return target
	}
	return err
}
