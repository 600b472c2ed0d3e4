package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hydro-core/internal/command"
	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/node"
)

// IssueCommandRequest is the body of POST /nodes/{id}/commands.
type IssueCommandRequest struct {
	Command        string         `json:"command"`
	Params         map[string]any `json:"params"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// SendConfigRequest is the body of POST /nodes/{id}/config.
type SendConfigRequest struct {
	Config map[string]any `json:"config"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleIssueCommand issues a command to an online node.
func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")

	var req IssueCommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeValidation(w, "command is required")
		return
	}
	if req.TimeoutSeconds < 0 {
		writeValidation(w, "timeout_seconds must not be negative")
		return
	}

	cmd, err := s.commands.Issue(r.Context(), nodeID, req.Command, req.Params, req.TimeoutSeconds, subjectFromContext(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, cmd)
	case errors.Is(err, node.ErrNodeNotFound):
		writeNotFound(w, "node not found: "+nodeID)
	case errors.Is(err, command.ErrNodeOffline):
		writeNodeOffline(w, nodeID)
	case errors.Is(err, command.ErrInvalidCommand):
		writeValidation(w, err.Error())
	case cmd != nil, errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrPublishFailed):
		// A returned command means it was stored and then failed to publish.
		s.logger.Warn("command publish failed", "node_id", nodeID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  http.StatusServiceUnavailable,
			"code":    ErrCodeBusUnavailable,
			"message": "message bus unavailable",
			"command": cmd,
		})
	default:
		s.logger.Error("issuing command failed", "node_id", nodeID, "error", err)
		writeInternalError(w, "failed to issue command")
	}
}

// handleGetCommand returns one command record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrCommandNotFound) {
			writeNotFound(w, "command not found: "+id)
			return
		}
		s.logger.Error("loading command failed", "command_id", id, "error", err)
		writeInternalError(w, "failed to load command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleSendConfig pushes a configuration document to a node.
func (s *Server) handleSendConfig(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")

	var req SendConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Config == nil {
		writeValidation(w, "config object is required")
		return
	}

	err := s.commands.SendConfig(r.Context(), nodeID, req.Config)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"node_id": nodeID, "status": "sent"})
	case errors.Is(err, node.ErrNodeNotFound):
		writeNotFound(w, "node not found: "+nodeID)
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrPublishFailed):
		writeUnavailable(w, ErrCodeBusUnavailable, "message bus unavailable")
	default:
		s.logger.Error("sending config failed", "node_id", nodeID, "error", err)
		writeInternalError(w, "failed to send config")
	}
}

// handleThrottleStats returns per-tier notification usage.
func (s *Server) handleThrottleStats(w http.ResponseWriter, r *http.Request) {
	if s.throttle == nil {
		writeUnavailable(w, ErrCodeUnavailable, "notification throttle not configured")
		return
	}
	stats, err := s.throttle.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading throttle stats failed", "error", err)
		writeInternalError(w, "failed to read throttle stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": stats})
}

// handleThrottleReset clears all throttle state.
func (s *Server) handleThrottleReset(w http.ResponseWriter, r *http.Request) {
	if s.throttle == nil {
		writeUnavailable(w, ErrCodeUnavailable, "notification throttle not configured")
		return
	}
	n, err := s.throttle.Reset(r.Context())
	if err != nil {
		s.logger.Error("resetting throttle failed", "error", err)
		writeInternalError(w, "failed to reset throttle")
		return
	}
	s.logger.Info("notification throttle reset via API", "keys", n, "by", subjectFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}
