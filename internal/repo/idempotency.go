package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/domain"
)

// Ledger rows are addressed by (scope, idempotency_key). A row is live while
// expires_at is after the caller's clock.

func byKey(scope, key string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("scope = ? AND idempotency_key = ?", scope, key)
	}
}

func liveAt(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB { return q.Where("expires_at > ?", now) }
}

func expiredAt(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB { return q.Where("expires_at <= ?", now) }
}

// GetIdempotency returns the live row for (scope, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.IdempotencyToken, error) {
	var tok domain.IdempotencyToken
	err := db.WithContext(ctx).Scopes(byKey(scope, key), liveAt(now)).Take(&tok).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &tok, nil
}

// CreateIdempotency claims (scope, key) with an in-progress row that lives
// for ttl. A row already holding the pair, live or not, yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time, ttl time.Duration) (*domain.IdempotencyToken, error) {
	tok := &domain.IdempotencyToken{
		ID:        uuid.NewString(),
		Scope:     scope,
		Key:       key,
		Status:    domain.IdempotencyInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Create(tok).Error
	if IsDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// PurgeExpiredIdempotency deletes the (scope, key) row if it is no longer
// live at now and reports how many rows went.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Scopes(byKey(scope, key), expiredAt(now)).Delete(&domain.IdempotencyToken{})
	return res.RowsAffected, res.Error
}

// MarkIdempotencyCompleted moves a live row to completed without touching
// its expiry. ErrNotFound when nothing live matched.
func MarkIdempotencyCompleted(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.IdempotencyToken{}).
		Scopes(byKey(scope, key), liveAt(now)).
		Update("status", domain.IdempotencyCompleted)
	if res.Error == nil && res.RowsAffected == 0 {
		return ErrNotFound
	}
	return res.Error
}

// DeleteIdempotency releases (scope, key) whatever its state.
func DeleteIdempotency(ctx context.Context, db *gorm.DB, scope, key string) error {
	return db.WithContext(ctx).Scopes(byKey(scope, key)).Delete(&domain.IdempotencyToken{}).Error
}

// DeleteExpiredIdempotency removes expired rows, oldest first, at most batch
// of them (batch <= 0: all).
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time, batch int) (int64, error) {
	q := db.WithContext(ctx)
	if batch > 0 {
		oldest := q.Model(&domain.IdempotencyToken{}).Select("id").
			Scopes(expiredAt(now)).Order("expires_at").Limit(batch)
		q = q.Where("id IN (?)", oldest)
	} else {
		q = q.Scopes(expiredAt(now))
	}
	res := q.Delete(&domain.IdempotencyToken{})
	return res.RowsAffected, res.Error
}
