// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file records prayers against requests and reads the
// owner/requester context needed to notify the request's author.
package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

// insertPrayerRecordSQL inserts only when the request exists and is active,
// so a missing request never produces a row. Uniqueness is left to
// ux_user_request.
const insertPrayerRecordSQL = `INSERT INTO user_request (request_id, user_id, "timestamp")
SELECT ?, ?, ?
WHERE EXISTS (SELECT 1 FROM request WHERE request_id = ? AND active = ?)`

// InsertPrayerRecord atomically records that userID prayed for requestID and
// bumps the request's counter. Call it inside a transaction so both
// statements commit together.
//
// Errors:
//   - ErrDuplicate when (request_id, user_id) already exists.
//   - ErrNotFound when the request does not exist or is inactive.
func InsertPrayerRecord(ctx context.Context, tx *gorm.DB, requestID, userID int64, at time.Time) error {
	res := tx.WithContext(ctx).Exec(insertPrayerRecordSQL, requestID, userID, at, requestID, true)
	if res.Error != nil {
		if IsDuplicate(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	upd := tx.WithContext(ctx).
		Model(&domain.PrayerRequest{}).
		Where("request_id = ?", requestID).
		UpdateColumn("prayer_count", gorm.Expr("prayer_count + ?", 1))
	if upd.Error != nil {
		return fmt.Errorf("increment prayer_count: %w", upd.Error)
	}
	return nil
}

// CountPrayerRecords returns how many records exist for (requestID, userID).
// It exists for tests and diagnostics; writes never consult it.
func CountPrayerRecords(ctx context.Context, db *gorm.DB, requestID, userID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PrayerRecord{}).
		Where("request_id = ? AND user_id = ?", requestID, userID).
		Count(&n).Error
	return n, err
}

// PrayerContext is the enrichment read performed right after a prayer is
// recorded: the request, its owner and the user who prayed.
type PrayerContext struct {
	Request   domain.PrayerRequest
	Owner     domain.User
	Requester domain.User
}

// GetPrayerContext loads the request with its owner and the requester.
func GetPrayerContext(ctx context.Context, db *gorm.DB, requestID, requesterID int64) (*PrayerContext, error) {
	req, err := GetRequest(ctx, db, requestID)
	if err != nil {
		return nil, err
	}

	var users []domain.User
	if err := db.WithContext(ctx).
		Where("user_id IN ?", []int64{req.UserID, requesterID}).
		Find(&users).Error; err != nil {
		return nil, err
	}

	out := &PrayerContext{Request: *req}
	var haveOwner, haveRequester bool
	for _, u := range users {
		if u.ID == req.UserID {
			out.Owner, haveOwner = u, true
		}
		if u.ID == requesterID {
			out.Requester, haveRequester = u, true
		}
	}
	if !haveOwner || !haveRequester {
		return nil, ErrNotFound
	}
	return out, nil
}
