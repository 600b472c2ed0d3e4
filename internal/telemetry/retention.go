package telemetry

import (
	"context"
	"time"
)

// Default retention policy.
const (
	DefaultRetention       = 365 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour

	cleanupTimeout = 2 * time.Minute
)

// Logger is the logging interface used by Retention.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Retention deletes telemetry older than a fixed window.
type Retention struct {
	store    Store
	keep     time.Duration
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewRetention creates a Retention job. Zero durations use the defaults.
func NewRetention(store Store, keep, interval time.Duration) *Retention {
	if keep <= 0 {
		keep = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Retention{store: store, keep: keep, interval: interval, now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Retention) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock overrides the time source (tests).
func (r *Retention) SetClock(now func() time.Time) {
	r.now = now
}

// Cleanup deletes expired records once.
func (r *Retention) Cleanup(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.keep)
	n, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.logger.Info("telemetry cleanup complete", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// Run cleans up on every tick until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.logger.Error("telemetry cleanup failed", "error", err)
			}
		}
	}
}
