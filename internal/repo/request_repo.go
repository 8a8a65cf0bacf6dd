// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for prayer
// requests and the generated prayers attached to them.
//
// Functions follow the "thin repository" approach: no business logic, only
// CRUD persistence and query composition. Missing rows surface as
// ErrNotFound (gorm.ErrRecordNotFound).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

// CreateRequest inserts an active request authored by userID.
func CreateRequest(ctx context.Context, db *gorm.DB, userID int64, title, text string) (*domain.PrayerRequest, error) {
	now := time.Now().UTC()
	r := &domain.PrayerRequest{
		UserID:    userID,
		Title:     title,
		Text:      text,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Omit("User").Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a request by id regardless of its active flag.
func GetRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.PrayerRequest, error) {
	var r domain.PrayerRequest
	if err := db.WithContext(ctx).Where("request_id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountActiveRequests returns the number of active requests.
func CountActiveRequests(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PrayerRequest{}).
		Where("active = ?", true).
		Count(&total).Error
	return total, err
}

// ListActiveRequestsPage returns a page of active requests, newest first.
func ListActiveRequestsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.PrayerRequest, error) {
	var out []domain.PrayerRequest
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at desc").
		Order("request_id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetRequestPicture stores the public URL of the request's image.
func SetRequestPicture(ctx context.Context, db *gorm.DB, id int64, url string) error {
	res := db.WithContext(ctx).
		Model(&domain.PrayerRequest{}).
		Where("request_id = ?", id).
		Update("picture", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachPrayer stores generated prayer text for a request. A second prayer
// for the same request yields ErrDuplicate.
func AttachPrayer(ctx context.Context, db *gorm.DB, requestID int64, text, model string) (*domain.Prayer, error) {
	p := &domain.Prayer{
		RequestID: requestID,
		Text:      text,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Request").Create(p).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// GetPrayer returns the generated prayer for a request.
func GetPrayer(ctx context.Context, db *gorm.DB, requestID int64) (*domain.Prayer, error) {
	var p domain.Prayer
	if err := db.WithContext(ctx).Where("request_id = ?", requestID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
