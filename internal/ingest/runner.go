package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailticket/internal/mail"
)

// defaultCycleTimeout bounds a fetch cycle when no timeout is configured.
const defaultCycleTimeout = 5 * time.Minute

// Runner drives the poll loop: one fetch cycle processes everything the
// mailbox currently reports, sequentially, then the runner sleeps until
// the next tick. Cycle errors are logged and the next scheduled cycle
// is the retry mechanism.
type Runner struct {
	fetcher      mail.Fetcher
	account      mail.Account
	handler      mail.Handler
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger
}

// NewRunner builds a runner for one mailbox account.
func NewRunner(
	fetcher mail.Fetcher,
	account mail.Account,
	handler mail.Handler,
	interval, cycleTimeout time.Duration,
	logger *slog.Logger,
) *Runner {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		fetcher:      fetcher,
		account:      account,
		handler:      handler,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger,
	}
}

// RunOnce executes a single bounded fetch cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, r.cycleTimeout)
	defer cancel()

	start := time.Now()
	if err := r.fetcher.Fetch(cycleCtx, r.account, r.handler); err != nil {
		return fmt.Errorf("fetch cycle: %w", err)
	}
	r.logger.Info("fetch cycle complete",
		"connector", r.fetcher.Name(),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Run executes an immediate cycle and then one cycle per interval until
// the context is cancelled. Cycle failures are logged and retried on
// the next tick; authentication failures are surfaced distinctly so the
// operator notices stale credentials.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("poll loop stopping")
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	err := r.RunOnce(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Shutdown in progress; Run's select reports it.
	case mail.IsAuthError(err):
		r.logger.Error("mailbox rejected credentials; check configuration",
			"account", r.account.Username, "error", err)
	default:
		r.logger.Error("fetch cycle failed; will retry next tick", "error", err)
	}
}
