package node

import (
	"encoding/json"
	"fmt"
)

// Message is the decoded body of a telemetry, heartbeat or discovery message.
// Numeric diagnostics are pointers so absent fields stay absent.
type Message struct {
	NodeID   string `json:"node_id"`
	Type     string `json:"type"`
	NodeType string `json:"node_type"`
	Zone     string `json:"zone"`

	Data map[string]any `json:"data"`

	Firmware   string `json:"firmware"`
	Hardware   string `json:"hardware"`
	MAC        string `json:"mac"`
	MACAddress string `json:"mac_address"`
	IP         string `json:"ip"`

	Sensors      []any `json:"sensors"`
	Capabilities []any `json:"capabilities"`

	HeapFree     *float64 `json:"heap_free"`
	HeapMin      *float64 `json:"heap_min"`
	HeapTotal    *float64 `json:"heap_total"`
	FlashTotal   *float64 `json:"flash_total"`
	FlashUsed    *float64 `json:"flash_used"`
	RSSIToParent *float64 `json:"rssi_to_parent"`
	WifiRSSI     *float64 `json:"wifi_rssi"`
	Uptime       *float64 `json:"uptime"`
	MeshNodes    *float64 `json:"mesh_nodes"`
}

// ParseMessage decodes payload. node_id is required.
func ParseMessage(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if m.NodeID == "" {
		return nil, fmt.Errorf("%w: missing node_id", ErrInvalidMessage)
	}
	return &m, nil
}

// MACAddr returns mac_address, falling back to mac.
func (m *Message) MACAddr() string {
	if m.MACAddress != "" {
		return m.MACAddress
	}
	return m.MAC
}

// SensorNames returns the string entries of the sensors list.
func (m *Message) SensorNames() []string {
	names := make([]string, 0, len(m.Sensors))
	for _, s := range m.Sensors {
		if name, ok := s.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// Diagnostics returns the link and memory readings carried by the message.
func (m *Message) Diagnostics() Document {
	d := Document{}
	setNum(d, "heap_free", m.HeapFree)
	setNum(d, "rssi_to_parent", m.RSSIToParent)
	setNum(d, "wifi_rssi", m.WifiRSSI)
	setNum(d, "uptime", m.Uptime)
	return d
}

func setNum(d Document, key string, v *float64) {
	if v != nil {
		d[key] = *v
	}
}

func setStr(d Document, key, v string) {
	if v != "" {
		d[key] = v
	}
}
