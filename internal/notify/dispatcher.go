package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/hydro-core/internal/event"
)

// Channel delivers an alert to operators (chat bot, SMS gateway, dashboard).
type Channel interface {
	Name() string

	// Send delivers one message.
	Send(ctx context.Context, tier, nodeID, message string) error

	// CriticalOnly marks costly channels such as SMS that only take the
	// critical tier.
	CriticalOnly() bool
}

// Alert is what a delivered notification carries.
type Alert struct {
	Tier    string `json:"tier"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// LogChannel writes alerts to the service log.
type LogChannel struct {
	logger Logger
}

// NewLogChannel creates a channel that logs at warn level.
func NewLogChannel(logger Logger) *LogChannel {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogChannel{logger: logger}
}

// Name returns "log".
func (c *LogChannel) Name() string { return "log" }

// CriticalOnly returns false.
func (c *LogChannel) CriticalOnly() bool { return false }

// Send logs the alert.
func (c *LogChannel) Send(_ context.Context, tier, nodeID, message string) error {
	c.logger.Warn("notification", "tier", tier, "node_id", nodeID, "message", message)
	return nil
}

// SinkChannel publishes alerts as notification.sent domain events, which the
// websocket hub broadcasts to dashboards.
type SinkChannel struct {
	sink event.Sink
}

// NewSinkChannel creates a broadcast channel.
func NewSinkChannel(sink event.Sink) *SinkChannel {
	return &SinkChannel{sink: sink}
}

// Name returns "broadcast".
func (c *SinkChannel) Name() string { return "broadcast" }

// CriticalOnly returns false.
func (c *SinkChannel) CriticalOnly() bool { return false }

// Send emits the alert.
func (c *SinkChannel) Send(_ context.Context, tier, nodeID, message string) error {
	c.sink.Emit(event.NotificationSent, Alert{Tier: tier, NodeID: nodeID, Message: message})
	return nil
}

// Dispatcher gates alerts through the Throttle and fans them out to channels.
type Dispatcher struct {
	throttle *Throttle
	channels []Channel
	logger   Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(throttle *Throttle, channels ...Channel) *Dispatcher {
	return &Dispatcher{throttle: throttle, channels: channels, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// AddChannel registers another delivery channel.
func (d *Dispatcher) AddChannel(c Channel) {
	d.channels = append(d.channels, c)
}

// Notify sends message when the throttle allows it and reports whether it
// went out. The alert counts as sent when at least one channel accepted it;
// only then is it recorded with MarkSent.
func (d *Dispatcher) Notify(ctx context.Context, tier, nodeID, message string) (bool, error) {
	ok, err := d.throttle.CanSend(ctx, tier, nodeID, message)
	if err != nil {
		return false, fmt.Errorf("checking throttle: %w", err)
	}
	if !ok {
		return false, nil
	}

	var errs []error
	delivered := 0
	for _, c := range d.channels {
		if c.CriticalOnly() && tier != TierCritical {
			continue
		}
		if err := c.Send(ctx, tier, nodeID, message); err != nil {
			d.logger.Error("notification channel failed", "channel", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return false, errors.Join(errs...)
	}
	if err := d.throttle.MarkSent(ctx, tier, nodeID, message); err != nil {
		return true, fmt.Errorf("recording notification: %w", err)
	}
	return true, nil
}

// TierForEventLevel maps an event level to a notification tier.
func TierForEventLevel(level string) string {
	switch level {
	case "critical", "emergency":
		return TierCritical
	case "warning", "error":
		return TierWarning
	default:
		return TierInfo
	}
}

// TierForErrorSeverity maps a node error severity to a notification tier.
func TierForErrorSeverity(severity string) string {
	switch severity {
	case "critical":
		return TierCritical
	case "high", "medium":
		return TierWarning
	default:
		return TierInfo
	}
}
