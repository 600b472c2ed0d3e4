package event

import "sync"

// Names of the domain events passed to Sink.Emit.
const (
	NodeDiscovered       = "node.discovered"
	NodeStatusChanged    = "node.status_changed"
	NodeConfigUpdated    = "node.config_updated"
	NodeError            = "node.error"
	TelemetryReceived    = "telemetry.received"
	EventCreated         = "event.created"
	CommandStatusChanged = "command.status_changed"
	NotificationSent     = "notification.sent"
)

// Sink receives domain events. Implementations must not block the caller
// for long; the ingestion loop calls Emit inline.
type Sink interface {
	Emit(name string, payload any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(name string, payload any)

// Emit calls f(name, payload).
func (f SinkFunc) Emit(name string, payload any) { f(name, payload) }

// NopSink discards every event.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(string, any) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMultiSink creates a MultiSink. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *MultiSink) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Emit forwards to every sink.
func (m *MultiSink) Emit(name string, payload any) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(name, payload)
	}
}

// Logger is the logging interface used by this package.
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

// LogSink writes every domain event to a logger at debug level.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger Logger) *LogSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSink{logger: logger}
}

// Emit logs the event name and payload.
func (s *LogSink) Emit(name string, payload any) {
	s.logger.Debug("domain event", "event", name, "payload", payload)
}
