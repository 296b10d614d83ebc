package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/history"
)

// graphRequestTimeout bounds a request that waits on the reconciler loop.
const graphRequestTimeout = 5 * time.Second

// ConnectionRequest is the body of POST and DELETE /connections.
// The ports may be given in either order.
type ConnectionRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// handleGetGraph returns a snapshot of every group, port and connection.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	snap, err := s.graph.Snapshot(ctx)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGraphStats returns reconciler counters and live entity counts.
func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	stats, err := s.graph.Stats(ctx)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleConnect asks for a connection between two ports.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.handleConnection(w, r, true)
}

// handleDisconnect asks for the connection between two ports to be removed.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.handleConnection(w, r, false)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request, connect bool) {
	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	req.Destination = strings.TrimSpace(req.Destination)
	if req.Source == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "source and destination are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), graphRequestTimeout)
	defer cancel()

	var err error
	action := audit.ActionConnect
	if connect {
		err = s.graph.Connect(ctx, req.Source, req.Destination)
	} else {
		action = audit.ActionDisconnect
		err = s.graph.Disconnect(ctx, req.Source, req.Destination)
	}

	claims := claimsFromContext(r.Context())
	subject := ""
	if claims != nil {
		subject = claims.Subject
	}
	outcome, reason := auditOutcome(err)
	s.recordAudit(r.Context(), claims, audit.AuditLog{
		Action:      action,
		Via:         audit.ViaHTTP,
		Source:      req.Source,
		Destination: req.Destination,
		Outcome:     outcome,
		Reason:      reason,
	})

	if err != nil {
		s.logger.Info("connection request rejected",
			"action", action,
			"source", req.Source,
			"destination", req.Destination,
			"subject", subject,
			"error", err,
		)
		writeGraphError(w, err)
		return
	}

	s.logger.Info("connection request accepted",
		"action", action,
		"source", req.Source,
		"destination", req.Destination,
		"subject", subject,
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"action":      action,
		"source":      req.Source,
		"destination": req.Destination,
	})
}

// handleResync schedules a full rebuild of the graph from the server.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	s.graph.RequestResync()

	claims := claimsFromContext(r.Context())
	subject := ""
	if claims != nil {
		subject = claims.Subject
	}
	s.recordAudit(r.Context(), claims, audit.AuditLog{
		Action:  audit.ActionResync,
		Via:     audit.ViaHTTP,
		Outcome: audit.OutcomeAccepted,
	})
	s.logger.Info("resync requested", "subject", subject)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleListHistory pages through journaled graph notifications, newest first.
//
// Query parameters: type, since (RFC 3339), limit, offset.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}

	filter, msg := parseHistoryFilter(r)
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing history failed", "error", err)
		writeInternalError(w, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseHistoryFilter returns the filter, or a message describing the bad parameter.
func parseHistoryFilter(r *http.Request) (history.Filter, string) {
	q := r.URL.Query()
	var f history.Filter

	if v := q.Get("type"); v != "" {
		f.Type = graph.EventType(v)
		if !f.Type.Valid() {
			return f, "unknown event type: " + v
		}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, "since must be an RFC 3339 timestamp"
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "limit must be a non-negative integer"
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "offset must be a non-negative integer"
		}
		f.Offset = n
	}
	return f, ""
}
