package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailticket/internal/blob"
	"github.com/nhle/mailticket/internal/credential"
	"github.com/nhle/mailticket/internal/ingest"
	"github.com/nhle/mailticket/internal/mail"
	"github.com/nhle/mailticket/internal/model"
	"github.com/nhle/mailticket/internal/store"
)

// app holds the wired components shared by the run and once commands.
type app struct {
	cfg    *model.AppConfig
	store  *store.SQLiteStore
	runner *ingest.Runner
}

// setup loads configuration and wires the store, pipeline, and runner.
// Failures here are unrecoverable startup errors and exit nonzero.
func setup(ctx context.Context) (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Mailbox.Host == "" {
		return nil, errors.New("mailbox host is not configured")
	}

	password, err := resolvePassword(cfg.Mailbox)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	seen, err := st.LoadSeenSet(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	registry, err := st.LoadIdentityRegistry(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	logger.Info("durable state loaded",
		"seen_messages", seen.Len(), "conversations", registry.Len())

	blobs, err := blob.NewFSStore(cfg.Storage.AttachmentsDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening attachment store: %w", err)
	}

	pipeline := ingest.NewPipeline(seen, registry, st, st, blobs, logger)

	account := mail.AccountFromConfig(cfg.Mailbox, password)
	fetcher, err := mail.NewFetcher(account, logger, seen.Has)
	if err != nil {
		st.Close()
		return nil, err
	}

	runner := ingest.NewRunner(
		fetcher, account, pipeline,
		time.Duration(cfg.Poll.IntervalSec)*time.Second,
		time.Duration(cfg.Poll.CycleTimeoutSec)*time.Second,
		logger,
	)

	return &app{cfg: cfg, store: st, runner: runner}, nil
}

// resolvePassword returns the mailbox password from configuration (which
// already includes environment overrides) or, failing that, the OS
// keyring.
func resolvePassword(cfg model.MailboxConfig) (string, error) {
	if cfg.Password != "" {
		return cfg.Password, nil
	}
	password, err := credential.Get(credential.MailboxKey)
	if err != nil {
		return "", fmt.Errorf(
			"mailbox password not configured and not in keyring: %w", err)
	}
	return password, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			logger.Info("poll loop starting",
				"mailbox", a.cfg.Mailbox.Host,
				"interval_sec", a.cfg.Poll.IntervalSec)
			if err := a.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single fetch cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			return a.runner.RunOnce(ctx)
		},
	}
}

func newResetStateCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset-state",
		Short: "Truncate the seen-message set and conversation registry",
		Long: "Truncates the durable seen-message set and the conversation " +
			"identity registry. Every message still on the server will be " +
			"treated as new on the next cycle, so this is only safe when the " +
			"mailbox has been drained or duplicates are acceptable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("refusing to reset without --yes")
			}

			cfg, err := model.LoadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
			if err != nil {
				return fmt.Errorf("opening record store: %w", err)
			}
			defer st.Close()

			if err := st.ResetIngestState(cmd.Context()); err != nil {
				return err
			}
			logger.Info("ingest state reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the destructive reset")
	return cmd
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the mailbox password in the OS keyring",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <password>",
			Short: "Store the mailbox password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return credential.Set(credential.MailboxKey, args[0])
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored mailbox password",
			RunE: func(cmd *cobra.Command, args []string) error {
				return credential.Delete(credential.MailboxKey)
			},
		},
	)
	return cmd
}
