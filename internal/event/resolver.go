package event

import (
	"context"
	"time"
)

// Default auto-resolve policy.
const (
	DefaultAutoResolveAfter = 24 * time.Hour
	DefaultResolveInterval  = time.Hour

	resolveTimeout = 30 * time.Second
)

// AutoResolver periodically resolves stale events.
type AutoResolver struct {
	store    Store
	after    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewAutoResolver creates an AutoResolver. Zero durations use the defaults.
func NewAutoResolver(store Store, after, interval time.Duration) *AutoResolver {
	if after <= 0 {
		after = DefaultAutoResolveAfter
	}
	if interval <= 0 {
		interval = DefaultResolveInterval
	}
	return &AutoResolver{
		store:    store,
		after:    after,
		interval: interval,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (a *AutoResolver) SetLogger(logger Logger) {
	a.logger = logger
}

// SetClock overrides the time source (tests).
func (a *AutoResolver) SetClock(now func() time.Time) {
	a.now = now
}

// ResolveOnce resolves every event older than the configured window.
func (a *AutoResolver) ResolveOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	now := a.now().UTC()
	n, err := a.store.AutoResolve(ctx, now.Add(-a.after), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Info("auto-resolved events", "count", n, "older_than", a.after.String())
	}
	return n, nil
}

// Run resolves on every tick until ctx is cancelled.
func (a *AutoResolver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ResolveOnce(ctx); err != nil {
				a.logger.Error("event auto-resolve failed", "error", err)
			}
		}
	}
}
