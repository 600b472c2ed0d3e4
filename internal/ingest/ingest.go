// Package ingest binds the hydro MQTT topics to the domain handlers.
//
// Every handler decodes its payload, drops malformed messages with a
// warning, and returns an error only when a store operation fails. The
// mqtt.Client's Drive loop logs those errors per message.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hydro-core/internal/command"
	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/node"
)

const (
	// handlerTimeout bounds store work for one message.
	handlerTimeout = 10 * time.Second

	qosTelemetry = 0
	qosControl   = 1
)

// Logger is the logging interface used by the ingester.
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

// NodeHandler applies node traffic. *node.Registry implements it.
type NodeHandler interface {
	HandleTelemetry(ctx context.Context, msg *node.Message) error
	HandleHeartbeat(ctx context.Context, msg *node.Message) error
	HandleDiscovery(ctx context.Context, msg *node.Message) error
	UpdateConfig(ctx context.Context, nodeID string, config node.Document) error
}

// ResponseHandler applies command responses. *command.Tracker implements it.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, resp *command.Response) error
}

// EventRecorder persists operator-facing events.
type EventRecorder interface {
	Create(ctx context.Context, e *event.Event) error
}

// Notifier requests an operator alert. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, tier, nodeID, message string) (bool, error)
}

// Ingester routes inbound messages.
type Ingester struct {
	nodes     NodeHandler
	responses ResponseHandler
	events    EventRecorder
	notifier  Notifier
	sink      event.Sink
	topics    mqtt.Topics
	now       func() time.Time
	logger    Logger
}

// New creates an ingester. notifier and sink may be nil.
func New(nodes NodeHandler, responses ResponseHandler, events EventRecorder, notifier Notifier, sink event.Sink) *Ingester {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Ingester{
		nodes:     nodes,
		responses: responses,
		events:    events,
		notifier:  notifier,
		sink:      sink,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (in *Ingester) SetLogger(logger Logger) {
	in.logger = logger
}

// SetClock overrides the time source (tests).
func (in *Ingester) SetClock(now func() time.Time) {
	in.now = now
}

// Register adds every hydro route to router.
func (in *Ingester) Register(router *mqtt.Router) error {
	routes := []struct {
		pattern string
		qos     byte
		handler mqtt.MessageHandler
	}{
		{in.topics.AllOfKind(mqtt.KindTelemetry), qosTelemetry, in.nodeMessage("telemetry", in.nodes.HandleTelemetry)},
		{in.topics.AllOfKind(mqtt.KindHeartbeat), qosTelemetry, in.nodeMessage("heartbeat", in.nodes.HandleHeartbeat)},
		{in.topics.Discovery(), qosControl, in.nodeMessage("discovery", in.nodes.HandleDiscovery)},
		{in.topics.AllOfKind(mqtt.KindResponse), qosControl, in.HandleResponse},
		{in.topics.AllOfKind(mqtt.KindEvent), qosControl, in.HandleEvent},
		{in.topics.AllOfKind(mqtt.KindError), qosControl, in.HandleError},
		{in.topics.AllOfKind(mqtt.KindConfigResponse), qosControl, in.HandleConfigResponse},
	}
	for _, r := range routes {
		if err := router.Handle(r.pattern, r.qos, r.handler); err != nil {
			return fmt.Errorf("registering %s: %w", r.pattern, err)
		}
	}
	return nil
}

func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// nodeMessage adapts a node.Message handler to the router.
func (in *Ingester) nodeMessage(kind string, handle func(context.Context, *node.Message) error) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		msg, err := node.ParseMessage(payload)
		if err != nil {
			in.logger.Warn("dropping invalid "+kind, "topic", topic, "error", err)
			return nil
		}
		ctx, cancel := handlerContext()
		defer cancel()
		return handle(ctx, msg)
	}
}

// HandleResponse applies a command response.
func (in *Ingester) HandleResponse(topic string, payload []byte) error {
	resp, err := command.ParseResponse(payload)
	if err != nil {
		in.logger.Warn("dropping invalid command response", "topic", topic, "error", err)
		return nil
	}
	if resp.NodeID == "" {
		resp.NodeID = in.topics.NodeID(topic)
	}
	ctx, cancel := handlerContext()
	defer cancel()
	return in.responses.HandleResponse(ctx, resp)
}

// HandleConfigResponse stores the configuration a node reports.
func (in *Ingester) HandleConfigResponse(topic string, payload []byte) error {
	var msg configResponse
	if err := decode(payload, &msg); err != nil {
		in.logger.Warn("dropping invalid config response", "topic", topic, "error", err)
		return nil
	}
	if msg.NodeID == "" || msg.Config == nil {
		in.logger.Warn("dropping config response without node_id or config", "topic", topic)
		return nil
	}

	ctx, cancel := handlerContext()
	defer cancel()
	err := in.nodes.UpdateConfig(ctx, msg.NodeID, msg.Config)
	if errors.Is(err, node.ErrNodeNotFound) {
		in.logger.Warn("config response from unknown node", "node_id", msg.NodeID)
		return nil
	}
	return err
}

// createEvent persists and broadcasts an event.
func (in *Ingester) createEvent(ctx context.Context, ev *event.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = in.now().UTC()
	}
	if err := in.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("creating event for %s: %w", ev.NodeID, err)
	}
	in.sink.Emit(event.EventCreated, ev)
	return nil
}

func (in *Ingester) notify(ctx context.Context, tier, nodeID, message string) {
	if in.notifier == nil {
		return
	}
	if _, err := in.notifier.Notify(ctx, tier, nodeID, message); err != nil {
		in.logger.Error("notification failed", "node_id", nodeID, "error", err)
	}
}
