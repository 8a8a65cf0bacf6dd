package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/repo"
)

func TestSweepOnce_RemovesOnlyExpired(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour)

	for i := 0; i < sweepBatch+3; i++ {
		_, err := repo.CreateIdempotency(ctx, db, "s", fmt.Sprintf("old-%d", i), past, time.Minute)
		require.NoError(t, err)
	}
	_, err := repo.CreateIdempotency(ctx, db, "s", "live", time.Now().UTC(), time.Hour)
	require.NoError(t, err)

	n, err := (&Sweeper{DB: db}).SweepOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, sweepBatch+3, n)

	var left int64
	require.NoError(t, db.Model(&domain.IdempotencyToken{}).Count(&left).Error)
	require.EqualValues(t, 1, left)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	db := newServiceDB(t)
	_, err := repo.CreateIdempotency(context.Background(), db, "s", "k", time.Now().UTC().Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Sweeper{DB: db, Interval: 5 * time.Millisecond}).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		var n int64
		db.Model(&domain.IdempotencyToken{}).Count(&n)
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
