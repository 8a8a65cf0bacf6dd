package domain

import "time"

// Idempotency ledger statuses.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// IdempotencyToken records that an operation keyed by a client-supplied key
// has been accepted within a scope (e.g. "request:create:42"). At most one
// live row exists per (scope, key); rows past ExpiresAt are treated as absent
// and may be purged.
type IdempotencyToken struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Scope     string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_scope_key,priority:1"`
	Key       string    `gorm:"column:idempotency_key;type:varchar(200);not null;uniqueIndex:ux_idem_scope_key,priority:2"`
	Status    string    `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyToken) TableName() string { return "idempotency" }

// Expired reports whether the token is past its lifetime at now.
func (t IdempotencyToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
