package node

import (
	"time"
)

// Type classifies a node by the hardware it carries.
type Type string

// Node types. TypeUnknown is the fallback when nothing identifies the node.
const (
	TypeRoot    Type = "root"
	TypePH      Type = "ph"
	TypeEC      Type = "ec"
	TypePHEC    Type = "ph_ec"
	TypeClimate Type = "climate"
	TypeRelay   Type = "relay"
	TypeWater   Type = "water"
	TypeDisplay Type = "display"
	TypeUnknown Type = "unknown"
)

// knownTypes is the closed set of specific node types.
var knownTypes = map[Type]bool{
	TypeRoot:    true,
	TypePH:      true,
	TypeEC:      true,
	TypePHEC:    true,
	TypeClimate: true,
	TypeRelay:   true,
	TypeWater:   true,
	TypeDisplay: true,
}

// Known reports whether t is a specific type (not unknown, not invalid).
func (t Type) Known() bool {
	return knownTypes[t]
}

// ParseType returns the Type for s, or TypeUnknown when s is not a specific type.
func ParseType(s string) Type {
	if t := Type(s); t.Known() {
		return t
	}
	return TypeUnknown
}

// Document is a free-form JSON object (config, metadata).
type Document map[string]any

// Defaults.
const (
	// DefaultOfflineTimeout is how long a node may stay silent before it is offline.
	DefaultOfflineTimeout = 20 * time.Second

	// AutoDiscoveredZone is assigned to nodes created without a zone.
	AutoDiscoveredZone = "Auto-discovered"
)

// Discovery provenance recorded in metadata.discovered_via.
const (
	DiscoveredViaHeartbeat = "heartbeat"
	DiscoveredViaDiscovery = "discovery_topic"
	CreatedViaMQTT         = "mqtt"
)

// Node is a device in the mesh.
//
// Online is a cache of IsOnline computed at the last write; LastSeenAt is
// authoritative.
type Node struct {
	ID         string     `json:"node_id"`
	Type       Type       `json:"node_type"`
	Zone       string     `json:"zone"`
	MACAddress string     `json:"mac_address,omitempty"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Config     Document   `json:"config"`
	Metadata   Document   `json:"metadata"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsOnline reports whether n has been seen within timeout of now.
func IsOnline(n *Node, now time.Time, timeout time.Duration) bool {
	if n == nil || n.LastSeenAt == nil {
		return false
	}
	return now.Sub(*n.LastSeenAt) < timeout
}

// StatusChange is the payload of node.status_changed.
type StatusChange struct {
	NodeID     string     `json:"node_id"`
	WasOnline  bool       `json:"was_online"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// ConfigUpdate is the payload of node.config_updated.
type ConfigUpdate struct {
	NodeID string   `json:"node_id"`
	Config Document `json:"config"`
}
