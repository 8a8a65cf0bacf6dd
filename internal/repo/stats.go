// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

// ActiveRequestsStats returns the number of active requests, the sum of their
// prayer counters and the greatest UpdatedAt among them. The triple changes
// whenever a request is created, edited or prayed for, which makes it a
// cheap weak-ETag seed for the request feed.
//
// When there are no active requests, count is 0 and maxUpdatedAt is nil.
func ActiveRequestsStats(ctx context.Context, db *gorm.DB) (count, prayers int64, maxUpdatedAt *time.Time, err error) {
	q := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.PrayerRequest{}).Where("active = ?", true)
	}

	if err = q().Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}

	var sum struct{ Total int64 }
	if err = q().Select("COALESCE(SUM(prayer_count), 0) AS total").Scan(&sum).Error; err != nil {
		return 0, 0, nil, err
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, sum.Total, &row.UpdatedAt, nil
}
