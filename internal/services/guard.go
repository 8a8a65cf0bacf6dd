// Package services – Idempotency Guard
//
// A Guard decides whether a client-keyed operation may run. Begin accepts a
// (scope, key) pair at most once while its ledger entry is live; Complete
// either keeps the entry as "completed" until it expires (so retries of a
// finished operation are rejected) or deletes it after a definitive failure
// (so the client can retry with the same key at once). An entry abandoned by
// a crashed worker blocks its key only until it expires.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/repo"
)

// DefaultIdempotencyTTL is the lifetime of a ledger entry.
const DefaultIdempotencyTTL = time.Hour

// maxIdempotencyKeyLen bounds client keys; the column is varchar(255)
// together with the scope.
const maxIdempotencyKeyLen = 128

// Outcome tells Complete how the guarded operation ended.
type Outcome int

const (
	// OutcomeSucceeded keeps the entry until expiry.
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed releases the key immediately.
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeSucceeded {
		return "succeeded"
	}
	return "failed"
}

// Guard is the idempotency ledger contract.
//
// Begin returns nil when the operation may proceed,
// ErrAlreadyInProgressOrCompleted when the key is taken, and an error
// wrapping ErrGuardUnavailable when the ledger cannot answer.
type Guard interface {
	Begin(ctx context.Context, scope, key string) error
	Complete(ctx context.Context, scope, key string, outcome Outcome) error
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", ErrMissingIdempotencyKey
	case len(key) > maxIdempotencyKeyLen:
		return "", fmt.Errorf("%w: idempotency key longer than %d bytes", ErrInvalidInput, maxIdempotencyKeyLen)
	}
	return key, nil
}

// DBGuard keeps the ledger in the relational store. The unique index on
// (scope, key) is the arbiter between concurrent Begin calls, so it is
// correct across processes sharing one database.
type DBGuard struct {
	DB  *gorm.DB
	TTL time.Duration

	now func() time.Time
}

// NewDBGuard returns a guard with the given entry lifetime (DefaultIdempotencyTTL when <= 0).
func NewDBGuard(db *gorm.DB, ttl time.Duration) *DBGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &DBGuard{DB: db, TTL: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (g *DBGuard) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now().UTC()
}

// Begin removes an expired entry for the key, if any, and then inserts a
// fresh in-progress entry.
func (g *DBGuard) Begin(ctx context.Context, scope, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	now := g.clock()

	if _, err := repo.PurgeExpiredIdempotency(ctx, g.DB, scope, key, now); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	_, err = repo.CreateIdempotency(ctx, g.DB, scope, key, now, g.TTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrDuplicate):
		idempotencyRejections.Inc()
		return ErrAlreadyInProgressOrCompleted
	default:
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
}

// Seen reports whether a live entry holds (scope, key). It never blocks a
// caller; Begin is the authoritative check.
func (g *DBGuard) Seen(ctx context.Context, scope, key string) (bool, error) {
	_, err := repo.GetIdempotency(ctx, g.DB, scope, strings.TrimSpace(key), g.clock())
	switch {
	case err == nil:
		return true, nil
	case repo.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Complete records the outcome. A missing entry (already expired and
// swept) is not an error.
func (g *DBGuard) Complete(ctx context.Context, scope, key string, outcome Outcome) error {
	key = strings.TrimSpace(key)
	var err error
	switch outcome {
	case OutcomeSucceeded:
		err = repo.MarkIdempotencyCompleted(ctx, g.DB, scope, key, g.clock())
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Str("scope", scope).Msg("idempotency entry expired before completion")
			err = nil
		}
	default:
		err = repo.DeleteIdempotency(ctx, g.DB, scope, key)
	}
	if err != nil {
		return fmt.Errorf("complete idempotency (%s): %w", outcome, err)
	}
	return nil
}
