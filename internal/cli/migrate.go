package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-prayer-backend/internal/repo"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, closeDB, err := rootOpts.openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return rootOpts.emit(cmd.OutOrStdout(),
				map[string]string{"status": "migrated", "driver": cfg.DB.Driver},
				"schema migrated ("+cfg.DB.Driver+")")
		},
	}
}
