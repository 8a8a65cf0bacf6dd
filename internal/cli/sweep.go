package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-prayer-backend/internal/services"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired idempotency keys once",
		Long: `Delete expired idempotency ledger entries from the database.

Expired entries never block a key; sweeping only bounds table growth. The
server sweeps on a timer when IDEMPOTENCY_BACKEND=db.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, closeDB, err := rootOpts.openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			sw := &services.Sweeper{DB: db}
			n, err := sw.SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return rootOpts.emit(cmd.OutOrStdout(),
				map[string]int64{"removed": n},
				fmt.Sprintf("removed %d expired idempotency keys", n))
		},
	}
}
