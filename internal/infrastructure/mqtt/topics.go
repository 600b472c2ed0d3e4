package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every hydro topic.
//
// Node traffic uses the flat scheme hydro/{kind}/{node_id}; discovery is a
// single fixed topic.
const TopicPrefix = "hydro"

// Message kinds, the second topic level.
const (
	KindTelemetry      = "telemetry"
	KindHeartbeat      = "heartbeat"
	KindEvent          = "event"
	KindError          = "error"
	KindResponse       = "response"
	KindConfigResponse = "config_response"
	KindCommand        = "command"
	KindConfig         = "config"
)

// Topics provides builders for hydro MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Command("relay_004") // "hydro/command/relay_004"
type Topics struct{}

// =============================================================================
// Node -> Server
// =============================================================================

// Telemetry returns the telemetry topic for a node.
//
// Example: hydro/telemetry/ph_ec_001
func (Topics) Telemetry(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindTelemetry, nodeID)
}

// Heartbeat returns the heartbeat topic for a node.
//
// Example: hydro/heartbeat/climate_007
func (Topics) Heartbeat(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindHeartbeat, nodeID)
}

// Discovery returns the fixed discovery topic.
func (Topics) Discovery() string {
	return TopicPrefix + "/discovery"
}

// Response returns the command response topic for a node.
//
// Example: hydro/response/ph_ec_001
func (Topics) Response(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindResponse, nodeID)
}

// Event returns the node event topic.
func (Topics) Event(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindEvent, nodeID)
}

// Error returns the node error report topic.
func (Topics) Error(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindError, nodeID)
}

// ConfigResponse returns the topic a node uses to report its applied config.
func (Topics) ConfigResponse(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindConfigResponse, nodeID)
}

// =============================================================================
// Server -> Node
// =============================================================================

// Command returns the command topic for a node.
//
// Example: hydro/command/relay_004
func (Topics) Command(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindCommand, nodeID)
}

// Config returns the config push topic for a node.
func (Topics) Config(nodeID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, KindConfig, nodeID)
}

// =============================================================================
// Server Presence
// =============================================================================

// Presence returns the retained server status topic.
// It carries the literal values "online" and "offline".
func (Topics) Presence() string {
	return TopicPrefix + "/server/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllOfKind returns a pattern matching every topic of one message kind.
//
// Pattern: hydro/{kind}/#
func (Topics) AllOfKind(kind string) string {
	return fmt.Sprintf("%s/%s/#", TopicPrefix, kind)
}

// NodeID extracts the node id level from hydro/{kind}/{node_id}.
// It returns "" for topics without one.
func (Topics) NodeID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefix {
		return ""
	}
	return parts[2]
}
