// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// Missing rows surface as ErrNotFound.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

// CreateUser inserts u and fills its generated ID. A taken user_name yields
// ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("user_id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether an active user with id exists.
func UserExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ? AND active = ?", id, true).
		Count(&n).Error
	return n > 0, err
}

// UpdatePushToken stores a push token for the user.
func UpdatePushToken(ctx context.Context, db *gorm.DB, id int64, token string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ?", id).
		Update("fcm_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPushToken nulls the user's push token, but only while it still equals
// token, so a token registered after the failed send is kept. It returns
// whether a row changed.
func ClearPushToken(ctx context.Context, db *gorm.DB, id int64, token string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ? AND fcm_token = ?", id, token).
		Update("fcm_token", gorm.Expr("NULL"))
	return res.RowsAffected > 0, res.Error
}

// UpdatePreferences sets the channel opt-ins that are non-nil.
func UpdatePreferences(ctx context.Context, db *gorm.DB, id int64, push, email *bool) error {
	changes := map[string]any{}
	if push != nil {
		changes["push_notifications"] = *push
	}
	if email != nil {
		changes["prayer_emails"] = *email
	}
	if len(changes) == 0 {
		_, err := GetUser(ctx, db, id)
		return err
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ?", id).
		Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserPicture records the public URL of the user's profile image.
func SetUserPicture(ctx context.Context, db *gorm.DB, id int64, url string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("user_id = ?", id).
		Update("picture", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEmailRecipients returns active users who opted into prayer emails and
// have an address on file, ordered by id.
func ListEmailRecipients(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("active = ? AND prayer_emails = ? AND email <> ''", true, true).
		Order("user_id ASC").
		Find(&out).Error
	return out, err
}
