package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/node"
)

const (
	// DefaultSweepInterval is how often Run fails expired commands.
	DefaultSweepInterval = 2 * time.Minute

	commandQoS   = 1
	sweepTimeout = 30 * time.Second

	unknownError = "Unknown error"
)

// Logger is the logging interface used by the Tracker.
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

// Publisher sends a message on the bus. *mqtt.Supervisor implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// NodeLookup loads a node. *node.Registry implements it.
type NodeLookup interface {
	Get(ctx context.Context, id string) (*node.Node, error)
}

// Config holds Tracker settings.
type Config struct {
	// OfflineTimeout decides whether a node can take commands.
	OfflineTimeout time.Duration

	// DefaultTimeout applies when Issue is given no timeout.
	DefaultTimeout time.Duration

	// SweepInterval is the Run tick period.
	SweepInterval time.Duration
}

// Tracker issues commands and reconciles node responses.
type Tracker struct {
	store    Store
	nodes    NodeLookup
	pub      Publisher
	sink     event.Sink
	topics   mqtt.Topics
	offline  time.Duration
	timeout  int
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewTracker creates a command tracker. sink may be nil.
func NewTracker(store Store, nodes NodeLookup, pub Publisher, sink event.Sink, cfg Config) *Tracker {
	if cfg.OfflineTimeout <= 0 {
		cfg.OfflineTimeout = node.DefaultOfflineTimeout
	}
	timeout := int(cfg.DefaultTimeout / time.Second)
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Tracker{
		store:    store,
		nodes:    nodes,
		pub:      pub,
		sink:     sink,
		offline:  cfg.OfflineTimeout,
		timeout:  timeout,
		interval: cfg.SweepInterval,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Get returns a command by id.
func (t *Tracker) Get(ctx context.Context, id string) (*Command, error) {
	return t.store.Get(ctx, id)
}

type commandMessage struct {
	Type      string         `json:"type"`
	CommandID string         `json:"command_id"`
	NodeID    string         `json:"node_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	Timestamp int64          `json:"timestamp"`
}

type configMessage struct {
	Type      string         `json:"type"`
	NodeID    string         `json:"node_id"`
	Config    map[string]any `json:"config"`
	Timestamp int64          `json:"timestamp"`
}

// Issue creates a command for an online node and publishes it.
//
// A node that is not online yields ErrNodeOffline and no record. If the
// publish fails the command is marked failed (publish_failed) and returned
// together with the error.
func (t *Tracker) Issue(ctx context.Context, nodeID, name string, params map[string]any, timeoutSeconds int, issuedBy string) (*Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidCommand
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = t.timeout
	}
	if params == nil {
		params = map[string]any{}
	}

	n, err := t.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", nodeID, err)
	}
	now := t.now().UTC()
	if !node.IsOnline(n, now, t.offline) {
		return nil, fmt.Errorf("%w: %s", ErrNodeOffline, nodeID)
	}

	cmd := &Command{
		NodeID:         nodeID,
		Command:        name,
		Params:         params,
		IssuedBy:       issuedBy,
		TimeoutSeconds: timeoutSeconds,
		TimeoutAt:      now.Add(time.Duration(timeoutSeconds) * time.Second),
		CreatedAt:      now,
	}
	if err := t.store.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("creating command: %w", err)
	}

	payload, err := json.Marshal(commandMessage{
		Type:      "command",
		CommandID: cmd.ID,
		NodeID:    nodeID,
		Command:   name,
		Params:    params,
		Timestamp: now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}

	if pubErr := t.pub.Publish(t.topics.Command(nodeID), payload, commandQoS, false); pubErr != nil {
		t.logger.Error("command publish failed", "command_id", cmd.ID, "node_id", nodeID, "error", pubErr)
		if _, err := t.store.Fail(ctx, cmd.ID, FailurePublishFailed, pubErr.Error(), t.now().UTC()); err != nil {
			return nil, fmt.Errorf("marking command failed: %w", err)
		}
		t.emit(cmd.ID, nodeID, StatusFailed, FailurePublishFailed, pubErr.Error())
		failed, err := t.store.Get(ctx, cmd.ID)
		if err != nil {
			failed = cmd
		}
		return failed, fmt.Errorf("publishing command: %w", pubErr)
	}

	sentAt := t.now().UTC()
	changed, err := t.store.MarkSent(ctx, cmd.ID, sentAt)
	if err != nil {
		return nil, fmt.Errorf("marking command sent: %w", err)
	}
	if changed {
		cmd.Status = StatusSent
		cmd.SentAt = &sentAt
		cmd.UpdatedAt = sentAt
		t.emit(cmd.ID, nodeID, StatusSent, FailureNone, "")
	} else if latest, err := t.store.Get(ctx, cmd.ID); err == nil {
		// The node answered before the sent mark landed.
		cmd = latest
	}

	t.logger.Info("command sent", "command_id", cmd.ID, "node_id", nodeID, "command", name)
	return cmd, nil
}

// HandleResponse applies a node's response to its command.
//
// Unknown command ids are logged and dropped; the server may have lost
// track of them across a restart. Duplicate and out-of-order responses are
// no-ops.
func (t *Tracker) HandleResponse(ctx context.Context, resp *Response) error {
	cmd, err := t.store.Get(ctx, resp.CommandID)
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) {
			t.logger.Warn("response for unknown command", "command_id", resp.CommandID, "node_id", resp.NodeID)
			return nil
		}
		return err
	}

	now := t.now().UTC()
	var changed bool
	var errText string
	var reason FailureReason

	switch resp.Status {
	case StatusCompleted:
		changed, err = t.store.Complete(ctx, cmd.ID, resp.Response, now)
	case StatusAcknowledged:
		changed, err = t.store.Acknowledge(ctx, cmd.ID, now)
	case StatusFailed:
		errText = resp.Error
		if errText == "" {
			errText = unknownError
		}
		reason = FailureNodeReported
		changed, err = t.store.Fail(ctx, cmd.ID, reason, errText, now)
	default:
		t.logger.Warn("unsupported response status", "command_id", cmd.ID, "status", resp.Status)
		return nil
	}
	if err != nil {
		return err
	}

	if !changed {
		t.logger.Debug("response ignored",
			"command_id", cmd.ID,
			"status", cmd.Status,
			"reported", resp.Status,
		)
		return nil
	}

	t.logger.Info("command status updated", "command_id", cmd.ID, "node_id", cmd.NodeID, "status", resp.Status)
	t.emit(cmd.ID, cmd.NodeID, resp.Status, reason, errText)
	return nil
}

// SweepTimeouts fails every expired non-terminal command and returns how
// many it failed. Per-command errors are logged and skipped.
func (t *Tracker) SweepTimeouts(ctx context.Context) (int, error) {
	now := t.now().UTC()
	expired, err := t.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range expired {
		c := &expired[i]
		msg := fmt.Sprintf("Command timed out after %d seconds", c.TimeoutSeconds)

		changed, err := t.store.Fail(ctx, c.ID, FailureTimedOut, msg, now)
		if err != nil {
			t.logger.Error("failing timed out command failed", "command_id", c.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		failed++
		t.logger.Warn("command timed out",
			"command_id", c.ID,
			"node_id", c.NodeID,
			"command", c.Command,
			"timeout_seconds", c.TimeoutSeconds,
		)
		t.emit(c.ID, c.NodeID, StatusFailed, FailureTimedOut, msg)
	}
	return failed, nil
}

// SendConfig publishes a configuration document to a known node.
func (t *Tracker) SendConfig(ctx context.Context, nodeID string, config map[string]any) error {
	if _, err := t.nodes.Get(ctx, nodeID); err != nil {
		return fmt.Errorf("loading node %s: %w", nodeID, err)
	}
	if config == nil {
		config = map[string]any{}
	}

	payload, err := json.Marshal(configMessage{
		Type:      "config",
		NodeID:    nodeID,
		Config:    config,
		Timestamp: t.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := t.pub.Publish(t.topics.Config(nodeID), payload, commandQoS, false); err != nil {
		return fmt.Errorf("publishing config: %w", err)
	}

	t.logger.Info("config sent", "node_id", nodeID)
	return nil
}

// Run sweeps timeouts on every tick until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			if _, err := t.SweepTimeouts(sweepCtx); err != nil {
				t.logger.Error("command timeout sweep failed", "error", err)
			}
			cancel()
		}
	}
}

func (t *Tracker) emit(id, nodeID string, status Status, reason FailureReason, errText string) {
	t.sink.Emit(event.CommandStatusChanged, StatusChange{
		CommandID:     id,
		NodeID:        nodeID,
		Status:        status,
		FailureReason: reason,
		Error:         errText,
	})
}
