// Package cli implements prayerctl, the operator command line: schema
// migration, idempotency ledger sweeps and one-off email broadcasts.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-prayer-backend/internal/config"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/sysutil"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBDriver string
	DBPath   string
	DBURL    string
	Format   string // "json" | "text"
	LogLevel string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for prayerctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "prayerctl",
		Short: "Operate the prayer request backend",
		Long: `prayerctl runs maintenance tasks against the prayer request database.

Configuration is read from the same environment variables as the server;
the --db-* flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			sysutil.ConfigureLogger(opts.LogLevel, true, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBDriver, "db-driver", "", "database driver (sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db-path", "", "sqlite database file")
	cmd.PersistentFlags().StringVar(&opts.DBURL, "db-url", "", "postgres DSN")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewBroadcastCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads the environment and applies flag overrides. A --db-url
// without --db-driver implies postgres.
func (o *RootOptions) loadConfig() (config.Config, error) {
	if o.DBURL != "" && o.DBDriver == "" {
		o.DBDriver = "postgres"
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	cfg.DB.Driver = sysutil.FirstNonEmpty(o.DBDriver, cfg.DB.Driver)
	cfg.DB.Path = sysutil.FirstNonEmpty(o.DBPath, cfg.DB.Path)
	cfg.DB.URL = sysutil.FirstNonEmpty(o.DBURL, cfg.DB.URL)
	return cfg, nil
}

func (o *RootOptions) openDB() (*gorm.DB, config.Config, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, cfg, nil, err
	}
	return db, cfg, func() { _ = repo.Close(db) }, nil
}

// emit writes v as JSON, or text as a line, depending on --format.
func (o *RootOptions) emit(w io.Writer, v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
