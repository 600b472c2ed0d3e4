package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/node"
	"github.com/nerrad567/hydro-core/internal/notify"
)

// Node error defaults.
const (
	defaultErrorCode     = "UNKNOWN_ERROR"
	defaultErrorType     = "software"
	defaultErrorSeverity = "medium"
	defaultErrorMessage  = "Unknown error occurred"
	defaultEventMessage  = "Unknown event"
	severityCritical     = "critical"
	pumpEventPrefix      = "pump_"
)

var errNotObject = errors.New("payload is not a JSON object")

type eventReport struct {
	NodeID  string         `json:"node_id"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// ErrorReport is a fault a node publishes on hydro/error/{node_id}.
// It is the payload of node.error.
type ErrorReport struct {
	NodeID      string         `json:"node_id"`
	ErrorCode   string         `json:"error_code"`
	ErrorType   string         `json:"error_type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
}

type configResponse struct {
	NodeID string        `json:"node_id"`
	Config node.Document `json:"config"`
}

// decode unmarshals a JSON object, keeping numbers as float64.
func decode(payload []byte, v any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(payload, v)
}

// HandleEvent records an event a node reports and alerts on critical ones.
func (in *Ingester) HandleEvent(topic string, payload []byte) error {
	var r eventReport
	if err := decode(payload, &r); err != nil {
		in.logger.Warn("dropping invalid event", "topic", topic, "error", err)
		return nil
	}
	if r.NodeID == "" {
		r.NodeID = in.topics.NodeID(topic)
	}
	if r.NodeID == "" {
		in.logger.Warn("dropping event without node_id", "topic", topic)
		return nil
	}

	level := eventLevel(r.Level)
	message := r.Message
	if message == "" {
		message = defaultEventMessage
	}
	if eventType, _ := r.Data["event_type"].(string); strings.HasPrefix(eventType, pumpEventPrefix) {
		message = pumpEventMessage(eventType, r.Data)
		level = pumpEventLevel(eventType)
	}

	ev := &event.Event{NodeID: r.NodeID, Level: level, Message: message, Data: r.Data}
	ctx, cancel := handlerContext()
	defer cancel()
	if err := in.createEvent(ctx, ev); err != nil {
		return err
	}
	in.logger.Info("node event", "node_id", r.NodeID, "level", string(level), "message", message)

	if level == event.LevelCritical || level == event.LevelEmergency {
		in.notify(ctx, notify.TierForEventLevel(string(level)), r.NodeID,
			fmt.Sprintf("Event: %s (Node: %s)", message, r.NodeID))
	}
	return nil
}

// HandleError logs a node fault, raises a critical event for critical
// severity and broadcasts node.error.
func (in *Ingester) HandleError(topic string, payload []byte) error {
	var r ErrorReport
	if err := decode(payload, &r); err != nil {
		in.logger.Warn("dropping invalid error report", "topic", topic, "error", err)
		return nil
	}
	if r.NodeID == "" {
		r.NodeID = in.topics.NodeID(topic)
	}
	if r.NodeID == "" {
		in.logger.Warn("dropping error report without node_id", "topic", topic)
		return nil
	}
	if r.ErrorCode == "" {
		r.ErrorCode = defaultErrorCode
	}
	if r.ErrorType == "" {
		r.ErrorType = defaultErrorType
	}
	if r.Severity == "" {
		r.Severity = defaultErrorSeverity
	}
	if r.Message == "" {
		r.Message = defaultErrorMessage
	}

	in.logger.Error("node error",
		"node_id", r.NodeID,
		"error_code", r.ErrorCode,
		"severity", r.Severity,
		"message", r.Message,
	)

	if r.Severity == severityCritical {
		ctx, cancel := handlerContext()
		defer cancel()

		data := map[string]any{"error_code": r.ErrorCode, "error_type": r.ErrorType}
		if r.Diagnostics != nil {
			data["diagnostics"] = r.Diagnostics
		}
		ev := &event.Event{
			NodeID:  r.NodeID,
			Level:   event.LevelCritical,
			Message: "Critical error: " + r.Message,
			Data:    data,
		}
		if err := in.createEvent(ctx, ev); err != nil {
			return err
		}
		in.notify(ctx, notify.TierForErrorSeverity(r.Severity), r.NodeID,
			fmt.Sprintf("Error: %s (Node: %s, Code: %s)", r.Message, r.NodeID, r.ErrorCode))
	}

	in.sink.Emit(event.NodeError, &r)
	return nil
}

// eventLevel maps a reported level onto the stored levels. Nodes also send
// "error", stored as warning; anything unknown is info.
func eventLevel(s string) event.Level {
	if s == "error" {
		return event.LevelWarning
	}
	level, err := event.ParseLevel(s)
	if err != nil {
		return event.LevelInfo
	}
	return level
}

// =============================================================================
// Pump events
// =============================================================================

func pumpEventLevel(eventType string) event.Level {
	switch eventType {
	case "pump_emergency_stop":
		return event.LevelCritical
	case "pump_timeout":
		return event.LevelWarning
	default:
		return event.LevelInfo
	}
}

func pumpEventMessage(eventType string, data map[string]any) string {
	name := pumpName(intField(data, "pump_id"), stringField(data, "node_type"))
	dose := numberText(data["dose_ml"])
	duration := numberText(data["duration_ms"])

	switch eventType {
	case "pump_start":
		return fmt.Sprintf("Pump %s started: %s ml (%s ms)", name, dose, duration)
	case "pump_stop":
		return fmt.Sprintf("Pump %s stopped: %s ml (%s ms)", name, dose, duration)
	case "pump_emergency_stop":
		return fmt.Sprintf("Emergency stop of pump %s", name)
	case "pump_timeout":
		return fmt.Sprintf("Pump %s timeout", name)
	case "pump_calibration_start":
		return fmt.Sprintf("Pump %s calibration started", name)
	case "pump_calibration_end":
		return fmt.Sprintf("Pump %s calibration finished", name)
	default:
		return fmt.Sprintf("Pump %s event: %s", name, eventType)
	}
}

// pumpName labels a pump by its index on the node's dosing head.
func pumpName(id int, nodeType string) string {
	var names []string
	fallback := "Pump"
	switch node.Type(nodeType) {
	case node.TypePH:
		names, fallback = []string{"pH UP", "pH DOWN"}, "pH"
	case node.TypeEC:
		names, fallback = []string{"EC A", "EC B", "EC C"}, "EC"
	case node.TypePHEC:
		names = []string{"pH UP", "pH DOWN", "EC A", "EC B", "EC C"}
	}
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("%s #%d", fallback, id)
}

func intField(data map[string]any, key string) int {
	if f, ok := data[key].(float64); ok {
		return int(f)
	}
	return 0
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func numberText(v any) string {
	if v == nil {
		return "0"
	}
	return fmt.Sprint(v)
}
