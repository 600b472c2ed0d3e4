package node

import (
	"slices"
	"strings"
)

// TypeResolver classifies an unseen node from its id and first message.
// ok is false when the resolver has no opinion.
type TypeResolver interface {
	Resolve(nodeID string, msg *Message) (t Type, ok bool)
}

// PrefixResolver matches node_id naming conventions such as "climate_007".
// Prefixes are tried in order, so longer prefixes sharing a stem must come first.
type PrefixResolver struct {
	Prefixes []PrefixRule
}

// PrefixRule maps one node_id prefix to a type.
type PrefixRule struct {
	Prefix string
	Type   Type
}

// DefaultPrefixes is the node_id naming convention of the mesh firmware.
// ph_ec_ precedes ph_ and ec_.
var DefaultPrefixes = []PrefixRule{
	{"root_", TypeRoot},
	{"climate_", TypeClimate},
	{"ph_ec_", TypePHEC},
	{"ph_", TypePH},
	{"ec_", TypeEC},
	{"relay_", TypeRelay},
	{"water_", TypeWater},
	{"display_", TypeDisplay},
}

// Resolve implements TypeResolver.
func (r PrefixResolver) Resolve(nodeID string, _ *Message) (Type, bool) {
	for _, rule := range r.Prefixes {
		if strings.HasPrefix(nodeID, rule.Prefix) {
			return rule.Type, true
		}
	}
	return "", false
}

// DeclaredTypeResolver trusts an explicit node_type field. The message "type"
// field is never consulted; it names the message kind ("heartbeat").
type DeclaredTypeResolver struct{}

// Resolve implements TypeResolver.
func (DeclaredTypeResolver) Resolve(_ string, msg *Message) (Type, bool) {
	if msg == nil {
		return "", false
	}
	t := Type(msg.NodeType)
	return t, t.Known()
}

// SensorResolver infers the type from the advertised sensor list.
type SensorResolver struct{}

// Resolve implements TypeResolver.
func (SensorResolver) Resolve(_ string, msg *Message) (Type, bool) {
	if msg == nil {
		return "", false
	}
	sensors := msg.SensorNames()
	hasPH := slices.Contains(sensors, "ph")
	hasEC := slices.Contains(sensors, "ec")

	switch {
	case hasPH && hasEC:
		return TypePHEC, true
	case hasPH:
		return TypePH, true
	case hasEC:
		return TypeEC, true
	case slices.Contains(sensors, "temperature"), slices.Contains(sensors, "humidity"):
		return TypeClimate, true
	}
	return "", false
}

// DefaultResolvers is the classification cascade for auto-discovered nodes:
// id prefix, then declared node_type, then sensor inference.
func DefaultResolvers() []TypeResolver {
	return []TypeResolver{
		PrefixResolver{Prefixes: DefaultPrefixes},
		DeclaredTypeResolver{},
		SensorResolver{},
	}
}

// ResolveType runs resolvers in order and returns the first answer, or
// TypeUnknown.
func ResolveType(resolvers []TypeResolver, nodeID string, msg *Message) Type {
	for _, r := range resolvers {
		if t, ok := r.Resolve(nodeID, msg); ok {
			return t
		}
	}
	return TypeUnknown
}

// DeclaredType reads the type a telemetry message claims for its node:
// node_type first, then type. Anything outside the closed set is unknown.
func DeclaredType(msg *Message) Type {
	if t := Type(msg.NodeType); t.Known() {
		return t
	}
	return ParseType(msg.Type)
}
