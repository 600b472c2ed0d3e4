package command

import (
	"encoding/json"
	"fmt"
)

// Response is a node's report on a command, received on hydro/response/{node_id}.
type Response struct {
	CommandID string          `json:"command_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ParseResponse decodes a response payload. command_id is required and the
// status must be acknowledged, completed or failed.
func ParseResponse(payload []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if r.CommandID == "" {
		return nil, fmt.Errorf("%w: missing command_id", ErrInvalidResponse)
	}
	switch r.Status {
	case StatusAcknowledged, StatusCompleted, StatusFailed:
	default:
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidResponse, r.Status)
	}
	if string(r.Response) == "null" {
		r.Response = nil
	}
	return &r, nil
}
