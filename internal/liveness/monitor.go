// Package liveness periodically reconciles each node's cached online flag
// with its last_seen_at timestamp.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/node"
)

const (
	// DefaultInterval is how often Run sweeps.
	DefaultInterval = time.Minute

	sweepTimeout = 30 * time.Second
)

// Logger is the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NodeStore is the subset of node.Repository the monitor needs.
type NodeStore interface {
	List(ctx context.Context) ([]node.Node, error)
	SetOnline(ctx context.Context, id string, online bool, cutoff, at time.Time) (bool, error)
}

// EventRecorder persists operator-facing events.
type EventRecorder interface {
	Create(ctx context.Context, e *event.Event) error
}

// Notifier requests an operator alert. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, tier, nodeID, message string) (bool, error)
}

// Result summarises one sweep.
type Result struct {
	Checked     int
	WentOnline  int
	WentOffline int
	Failed      int
}

// Monitor recomputes node liveness.
type Monitor struct {
	nodes    NodeStore
	events   EventRecorder
	sink     event.Sink
	notifier Notifier
	timeout  time.Duration
	interval time.Duration
	notify   bool
	now      func() time.Time
	logger   Logger
}

// Config holds Monitor settings.
type Config struct {
	// OfflineTimeout is the silence after which a node is offline.
	OfflineTimeout time.Duration

	// Interval is the Run tick period.
	Interval time.Duration

	// Notify makes Run request alerts for nodes going offline.
	Notify bool
}

// NewMonitor creates a liveness monitor. events, sink and notifier may be nil.
func NewMonitor(nodes NodeStore, events EventRecorder, sink event.Sink, notifier Notifier, cfg Config) *Monitor {
	if cfg.OfflineTimeout <= 0 {
		cfg.OfflineTimeout = node.DefaultOfflineTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Monitor{
		nodes:    nodes,
		events:   events,
		sink:     sink,
		notifier: notifier,
		timeout:  cfg.OfflineTimeout,
		interval: cfg.Interval,
		notify:   cfg.Notify,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetClock overrides the time source (tests).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Sweep checks every node once. A failure on one node is logged and counted;
// the sweep continues with the rest. The returned error is only for
// failing to list nodes.
func (m *Monitor) Sweep(ctx context.Context, notify bool) (Result, error) {
	var res Result

	nodes, err := m.nodes.List(ctx)
	if err != nil {
		return res, fmt.Errorf("listing nodes: %w", err)
	}

	now := m.now().UTC()
	cutoff := now.Add(-m.timeout)
	for i := range nodes {
		n := &nodes[i]
		res.Checked++

		online := node.IsOnline(n, now, m.timeout)
		if online == n.Online {
			continue
		}

		changed, err := m.nodes.SetOnline(ctx, n.ID, online, cutoff, now)
		if err != nil {
			res.Failed++
			m.logger.Error("updating node liveness failed", "node_id", n.ID, "error", err)
			continue
		}
		if !changed {
			// Ingestion got there first, or the node was seen after List.
			continue
		}

		m.sink.Emit(event.NodeStatusChanged, node.StatusChange{
			NodeID:     n.ID,
			WasOnline:  n.Online,
			Online:     online,
			LastSeenAt: n.LastSeenAt,
		})

		if online {
			res.WentOnline++
			m.logger.Info("node online", "node_id", n.ID)
			continue
		}
		res.WentOffline++
		m.wentOffline(ctx, n, notify)
	}

	if res.WentOnline+res.WentOffline+res.Failed > 0 {
		m.logger.Info("liveness sweep complete",
			"checked", res.Checked,
			"went_online", res.WentOnline,
			"went_offline", res.WentOffline,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (m *Monitor) wentOffline(ctx context.Context, n *node.Node, notify bool) {
	lastSeen := "never"
	if n.LastSeenAt != nil {
		lastSeen = n.LastSeenAt.UTC().Format(time.RFC3339)
	}
	m.logger.Warn("node offline", "node_id", n.ID, "last_seen", lastSeen)

	msg := fmt.Sprintf("Node %s went offline", n.ID)
	if m.events != nil {
		ev := &event.Event{
			NodeID:    n.ID,
			Level:     event.LevelWarning,
			Message:   msg,
			Data:      map[string]any{"last_seen": lastSeen},
			CreatedAt: m.now().UTC(),
		}
		if err := m.events.Create(ctx, ev); err != nil {
			m.logger.Error("recording offline event failed", "node_id", n.ID, "error", err)
		} else {
			m.sink.Emit(event.EventCreated, ev)
		}
	}

	if notify && m.notifier != nil {
		if _, err := m.notifier.Notify(ctx, "warning", n.ID, msg); err != nil {
			m.logger.Error("offline notification failed", "node_id", n.ID, "error", err)
		}
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			if _, err := m.Sweep(sweepCtx, m.notify); err != nil {
				m.logger.Error("liveness sweep failed", "error", err)
			}
			cancel()
		}
	}
}
