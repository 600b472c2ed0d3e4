package command

import (
	"encoding/json"
	"time"
)

// DefaultTimeoutSeconds applies when Issue is given no timeout.
const DefaultTimeoutSeconds = 300

// Status is a command lifecycle state.
type Status string

// Command states. completed and failed are terminal.
const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// rank orders the forward path. failed sits outside it.
var rank = map[Status]int{
	StatusPending:      0,
	StatusSent:         1,
	StatusAcknowledged: 2,
	StatusCompleted:    3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusFailed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a command in from may move to to.
//
// The forward path may skip states (a completion can overtake the sent mark
// or the acknowledgement) but never goes back. failed is reachable from any
// non-terminal state. Terminal states are absorbing.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return rank[to] > rank[from]
}

// predecessors returns every status that may transition to to.
func predecessors(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusPending, StatusSent, StatusAcknowledged, StatusCompleted, StatusFailed} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// FailureReason says why a command failed.
type FailureReason string

// Failure reasons.
const (
	FailureNone          FailureReason = ""
	FailurePublishFailed FailureReason = "publish_failed"
	FailureNodeReported  FailureReason = "node_reported"
	FailureTimedOut      FailureReason = "timed_out"
)

// Command is an operator-issued instruction to one node.
type Command struct {
	ID             string          `json:"id"`
	NodeID         string          `json:"node_id"`
	Command        string          `json:"command"`
	Params         map[string]any  `json:"params"`
	Status         Status          `json:"status"`
	FailureReason  FailureReason   `json:"failure_reason,omitempty"`
	IssuedBy       string          `json:"issued_by,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	TimeoutAt      time.Time       `json:"timeout_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Expired reports whether a non-terminal command is past its deadline.
func (c *Command) Expired(now time.Time) bool {
	return !c.Status.Terminal() && now.After(c.TimeoutAt)
}

// StatusChange is the payload of command.status_changed.
type StatusChange struct {
	CommandID     string        `json:"command_id"`
	NodeID        string        `json:"node_id"`
	Status        Status        `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}
