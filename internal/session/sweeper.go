package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultSweepSchedule = "0 * * * *"
	defaultSessionTTL    = time.Hour
)

// Sweeper removes idle sessions on a cron schedule, independent of
// query handling.
type Sweeper struct {
	store    *Store
	schedule cron.Schedule
	ttl      time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper parses the standard five-field cron spec. Empty spec and
// zero ttl fall back to hourly sweeps of sessions idle for an hour.
func NewSweeper(store *Store, spec string, ttl time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if spec == "" {
		spec = defaultSweepSchedule
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}

	return &Sweeper{
		store:    store,
		schedule: schedule,
		ttl:      ttl,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called. Run it in its own goroutine.
func (w *Sweeper) Start(ctx context.Context) {
	defer close(w.doneCh)

	w.logger.Info("sweeper started", "ttl", w.ttl,
		"next_run", w.schedule.Next(time.Now()).Format(time.RFC3339))

	for {
		timer := time.NewTimer(time.Until(w.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("sweeper stopped (context cancelled)")
			return
		case <-w.stopCh:
			timer.Stop()
			w.logger.Info("sweeper stopped")
			return
		case <-timer.C:
			if removed := w.store.Sweep(w.ttl); removed > 0 {
				w.logger.Info("sweep complete", "removed", removed)
			}
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (w *Sweeper) Stop() {
	close(w.stopCh)
	<-w.doneCh
}
