package event

import (
	"fmt"
	"time"
)

// Level is the operator-facing severity of an Event.
type Level string

const (
	LevelInfo      Level = "info"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical, LevelEmergency:
		return true
	}
	return false
}

// ParseLevel converts s to a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}

// Status is the resolution state of an Event.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// ResolvedByAuto is the resolver name recorded by the AutoResolver.
const ResolvedByAuto = "auto"

// Event is an operator-facing record of a notable condition.
type Event struct {
	ID         string         `json:"id"`
	NodeID     string         `json:"node_id,omitempty"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Status returns StatusActive until the event has been resolved.
func (e *Event) Status() Status {
	if e.ResolvedAt == nil {
		return StatusActive
	}
	return StatusResolved
}

// Resolvable reports whether the event may be resolved automatically.
// Emergency events are only ever cleared by an operator.
func (e *Event) Resolvable() bool {
	return e.Level != LevelEmergency
}
