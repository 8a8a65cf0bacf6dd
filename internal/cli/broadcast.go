package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/repo"
	"github.com/tbourn/go-prayer-backend/internal/services"
)

// BroadcastOptions holds flags for the broadcast command.
type BroadcastOptions struct {
	Subject  string
	Body     string
	HTMLFile string
	TextFile string
	DryRun   bool
}

// NewBroadcastCommand creates the broadcast command.
func NewBroadcastCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BroadcastOptions{}

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Email every user who opted into prayer emails",
		Long: `Send one email to every active user with prayer emails enabled.

Either --body (rendered with the standard template) or --html-file is
required. Sends are spaced by BROADCAST_INTERVAL. --dry-run only counts the
recipients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "email subject (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "plain message body rendered with the standard template")
	cmd.Flags().StringVar(&opts.HTMLFile, "html-file", "", "file with a ready HTML body")
	cmd.Flags().StringVar(&opts.TextFile, "text-file", "", "file with the plain-text alternative")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "count recipients without sending")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runBroadcast(rootOpts *RootOptions, opts *BroadcastOptions, cmd *cobra.Command) error {
	msg := services.BroadcastMessage{Subject: opts.Subject, Body: opts.Body}
	if opts.HTMLFile != "" {
		b, err := os.ReadFile(opts.HTMLFile)
		if err != nil {
			return fmt.Errorf("read html file: %w", err)
		}
		msg.HTML = string(b)
	}
	if opts.TextFile != "" {
		b, err := os.ReadFile(opts.TextFile)
		if err != nil {
			return fmt.Errorf("read text file: %w", err)
		}
		msg.Text = string(b)
	}
	if msg.Body == "" && msg.HTML == "" {
		return errors.New("one of --body or --html-file is required")
	}

	db, cfg, closeDB, err := rootOpts.openDB()
	if err != nil {
		return err
	}
	defer closeDB()

	if opts.DryRun {
		users, err := repo.ListEmailRecipients(cmd.Context(), db)
		if err != nil {
			return err
		}
		return rootOpts.emit(cmd.OutOrStdout(),
			map[string]int{"recipients": len(users)},
			fmt.Sprintf("would send %q to %d recipients", msg.Subject, len(users)))
	}

	svc := &services.BroadcastService{DB: db, Renderer: notify.NewRenderer(cfg.SMTP.AppName)}
	if cfg.SMTP.Enabled() {
		svc.Sender = &notify.Broadcaster{
			Email:    notify.NewSMTPMailer(cfg.SMTP),
			Interval: cfg.Notify.BroadcastInterval,
			Timeout:  cfg.Notify.Timeout,
		}
	}

	res, err := svc.Send(cmd.Context(), msg)
	if err != nil {
		return err
	}
	if err := rootOpts.emit(cmd.OutOrStdout(), res,
		fmt.Sprintf("sent %d of %d (%d failed)", res.Sent, res.Total, res.Failed)); err != nil {
		return err
	}
	if res.Failed > 0 && rootOpts.Format == "text" {
		for _, f := range res.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Recipient, f.Error)
		}
	}
	return nil
}
