package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/repo"
)

// sweepBatch bounds a single delete so a large backlog does not hold a long
// write lock.
const sweepBatch = 500

// Sweeper deletes expired idempotency entries. Expired entries are already
// ignored by DBGuard.Begin; sweeping only bounds table growth.
type Sweeper struct {
	DB       *gorm.DB
	Interval time.Duration
}

// SweepOnce deletes expired entries in batches until none remain and
// returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	var total int64
	now := time.Now().UTC()
	for {
		n, err := repo.DeleteExpiredIdempotency(ctx, s.DB, now, sweepBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < sweepBatch {
			return total, nil
		}
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("idempotency sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency sweep")
			}
		}
	}
}
