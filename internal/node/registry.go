package node

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/telemetry"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TelemetryRecorder persists telemetry. *telemetry.Recorder implements it.
type TelemetryRecorder interface {
	Record(ctx context.Context, rec *telemetry.Record) error
	RecordHealth(nodeID string, diagnostics map[string]any, at time.Time)
}

// EventRecorder persists operator-facing events. *event.SQLiteStore implements it.
type EventRecorder interface {
	Create(ctx context.Context, e *event.Event) error
}

// Registry turns telemetry, heartbeat and discovery messages into node state.
//
// Handlers are called one at a time by the ingestion loop but may race with
// the liveness sweep; all writes go through the Repository's conditional
// statements.
type Registry struct {
	repo      Repository
	telemetry TelemetryRecorder
	events    EventRecorder
	sink      event.Sink
	resolvers []TypeResolver
	timeout   time.Duration
	now       func() time.Time
	logger    Logger
}

// NewRegistry creates a node registry. sink may be nil.
func NewRegistry(repo Repository, tel TelemetryRecorder, events EventRecorder, sink event.Sink) *Registry {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Registry{
		repo:      repo,
		telemetry: tel,
		events:    events,
		sink:      sink,
		resolvers: DefaultResolvers(),
		timeout:   DefaultOfflineTimeout,
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock overrides the time source (tests).
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SetResolvers replaces the type classification cascade.
func (r *Registry) SetResolvers(resolvers []TypeResolver) {
	r.resolvers = resolvers
}

// SetOfflineTimeout sets the liveness timeout used by IsOnline.
func (r *Registry) SetOfflineTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// OfflineTimeout returns the liveness timeout.
func (r *Registry) OfflineTimeout() time.Duration {
	return r.timeout
}

// Get returns a node by id.
func (r *Registry) Get(ctx context.Context, id string) (*Node, error) {
	return r.repo.Get(ctx, id)
}

// List returns every node.
func (r *Registry) List(ctx context.Context) ([]Node, error) {
	return r.repo.List(ctx)
}

// IsOnline evaluates liveness of n against the registry clock and timeout.
func (r *Registry) IsOnline(n *Node) bool {
	return IsOnline(n, r.now(), r.timeout)
}

// HandleTelemetry records a telemetry message and upserts its node.
func (r *Registry) HandleTelemetry(ctx context.Context, msg *Message) error {
	now := r.now().UTC()
	declared := DeclaredType(msg)

	rec := &telemetry.Record{
		NodeID:     msg.NodeID,
		NodeType:   string(declared),
		Data:       msg.Data,
		ReceivedAt: now,
	}
	if err := r.telemetry.Record(ctx, rec); err != nil {
		return fmt.Errorf("recording telemetry for %s: %w", msg.NodeID, err)
	}
	r.sink.Emit(event.TelemetryReceived, rec)

	patch := Document{}
	setStr(patch, "firmware", msg.Firmware)
	setStr(patch, "hardware", msg.Hardware)
	setStr(patch, "mac_from_mqtt", msg.MACAddress)

	seen := Seen{At: now, Metadata: patch, Type: declared}
	created, cameOnline, err := r.touch(ctx, msg.NodeID, seen, func() *Node {
		md := Document{
			"created_via": CreatedViaMQTT,
			"created_at":  now.Format(time.RFC3339),
		}
		maps.Copy(md, patch)
		return &Node{
			ID:         msg.NodeID,
			Type:       declared,
			Online:     true,
			LastSeenAt: &now,
			Config:     Document{},
			Metadata:   md,
		}
	})
	if err != nil {
		return err
	}

	if created != nil {
		r.logger.Info("node created from telemetry", "node_id", msg.NodeID, "node_type", string(declared))
	}
	if created != nil || cameOnline {
		r.emitStatus(msg.NodeID, false, true, now)
	}
	return nil
}

// HandleHeartbeat refreshes liveness, auto-discovering unseen nodes.
func (r *Registry) HandleHeartbeat(ctx context.Context, msg *Message) error {
	now := r.now().UTC()
	diag := msg.Diagnostics()
	mac := msg.MACAddr()

	patch := maps.Clone(diag)
	setStr(patch, "mac_address", mac)

	seen := Seen{At: now, Metadata: patch, MACAddress: mac}
	created, cameOnline, err := r.touch(ctx, msg.NodeID, seen, func() *Node {
		md := Document{
			"discovered_at":  now.Format(time.RFC3339),
			"discovered_via": DiscoveredViaHeartbeat,
		}
		setStr(md, "firmware", msg.Firmware)
		setStr(md, "hardware", msg.Hardware)
		setStr(md, "ip_address", msg.IP)
		maps.Copy(md, diag)
		return &Node{
			ID:         msg.NodeID,
			Type:       ResolveType(r.resolvers, msg.NodeID, msg),
			Zone:       AutoDiscoveredZone,
			MACAddress: mac,
			Online:     true,
			LastSeenAt: &now,
			Config:     Document{},
			Metadata:   md,
		}
	})
	if err != nil {
		return err
	}

	switch {
	case created != nil:
		r.announce(ctx, created, DiscoveredViaHeartbeat, Document{"node_type": string(created.Type)})
	case cameOnline:
		r.emitStatus(msg.NodeID, false, true, now)
	}

	r.telemetry.RecordHealth(msg.NodeID, diag, now)
	r.logger.Debug("heartbeat received", "node_id", msg.NodeID)
	return nil
}

// HandleDiscovery registers a node announcing itself on the discovery topic.
func (r *Registry) HandleDiscovery(ctx context.Context, msg *Message) error {
	now := r.now().UTC()
	diag := msg.Diagnostics()
	mac := msg.MACAddr()

	patch := maps.Clone(diag)
	patch["last_discovery"] = now.Format(time.RFC3339)
	setStr(patch, "firmware", msg.Firmware)
	setStr(patch, "hardware", msg.Hardware)
	setStr(patch, "mac_address", mac)
	setStr(patch, "ip_address", msg.IP)

	seen := Seen{At: now, Metadata: patch, MACAddress: mac}
	created, cameOnline, err := r.touch(ctx, msg.NodeID, seen, func() *Node {
		zone := msg.Zone
		if zone == "" {
			zone = AutoDiscoveredZone
		}
		md := Document{
			"discovered_at":  now.Format(time.RFC3339),
			"discovered_via": DiscoveredViaDiscovery,
		}
		setStr(md, "firmware", msg.Firmware)
		setStr(md, "hardware", msg.Hardware)
		setStr(md, "ip_address", msg.IP)
		if msg.Sensors != nil {
			md["sensors"] = msg.Sensors
		}
		if msg.Capabilities != nil {
			md["capabilities"] = msg.Capabilities
		}
		setNum(md, "heap_min", msg.HeapMin)
		setNum(md, "heap_total", msg.HeapTotal)
		setNum(md, "flash_total", msg.FlashTotal)
		setNum(md, "flash_used", msg.FlashUsed)
		setNum(md, "mesh_nodes", msg.MeshNodes)
		maps.Copy(md, diag)
		return &Node{
			ID:         msg.NodeID,
			Type:       ResolveType(r.resolvers, msg.NodeID, msg),
			Zone:       zone,
			MACAddress: mac,
			Online:     true,
			LastSeenAt: &now,
			Config:     Document{},
			Metadata:   md,
		}
	})
	if err != nil {
		return err
	}

	switch {
	case created != nil:
		data := Document{"node_type": string(created.Type)}
		setStr(data, "firmware", msg.Firmware)
		setStr(data, "hardware", msg.Hardware)
		r.announce(ctx, created, DiscoveredViaDiscovery, data)
	case cameOnline:
		r.emitStatus(msg.NodeID, false, true, now)
	default:
		r.logger.Info("discovery from registered node", "node_id", msg.NodeID)
	}
	return nil
}

// UpdateConfig stores the configuration a node reported on config_response.
func (r *Registry) UpdateConfig(ctx context.Context, nodeID string, config Document) error {
	if err := r.repo.ReplaceConfig(ctx, nodeID, config, r.now().UTC()); err != nil {
		return fmt.Errorf("updating config for %s: %w", nodeID, err)
	}
	r.sink.Emit(event.NodeConfigUpdated, ConfigUpdate{NodeID: nodeID, Config: config})
	r.logger.Info("node config updated", "node_id", nodeID, "keys", len(config))
	return nil
}

// touch applies seen to an existing node or creates the node built by
// build. created is non-nil only when this call inserted the node.
func (r *Registry) touch(ctx context.Context, id string, seen Seen, build func() *Node) (created *Node, cameOnline bool, err error) {
	cameOnline, err = r.repo.MarkSeen(ctx, id, seen)
	if err == nil {
		return nil, cameOnline, nil
	}
	if !errors.Is(err, ErrNodeNotFound) {
		return nil, false, fmt.Errorf("marking node %s seen: %w", id, err)
	}

	n := build()
	err = r.repo.Create(ctx, n)
	if err == nil {
		return n, false, nil
	}
	if !errors.Is(err, ErrNodeExists) {
		return nil, false, fmt.Errorf("creating node %s: %w", id, err)
	}

	// Another writer created it between the two statements.
	cameOnline, err = r.repo.MarkSeen(ctx, id, seen)
	if err != nil {
		return nil, false, fmt.Errorf("marking node %s seen: %w", id, err)
	}
	return nil, cameOnline, nil
}

// announce records and broadcasts an auto-discovered node.
func (r *Registry) announce(ctx context.Context, n *Node, via string, data Document) {
	r.logger.Info("node auto-discovered",
		"node_id", n.ID,
		"node_type", string(n.Type),
		"via", via,
		"mac", n.MACAddress,
	)

	ev := &event.Event{
		NodeID:    n.ID,
		Level:     event.LevelInfo,
		Message:   fmt.Sprintf("New node auto-discovered: %s", n.ID),
		Data:      data,
		CreatedAt: r.now().UTC(),
	}
	if r.events != nil {
		if err := r.events.Create(ctx, ev); err != nil {
			r.logger.Warn("recording discovery event failed", "node_id", n.ID, "error", err)
		} else {
			r.sink.Emit(event.EventCreated, ev)
		}
	}
	r.sink.Emit(event.NodeDiscovered, n)
}

func (r *Registry) emitStatus(id string, wasOnline, online bool, lastSeen time.Time) {
	r.sink.Emit(event.NodeStatusChanged, StatusChange{
		NodeID:     id,
		WasOnline:  wasOnline,
		Online:     online,
		LastSeenAt: &lastSeen,
	})
}
