package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
)

// auditWriteTimeout bounds an audit insert. The insert outlives a client
// that hangs up mid-request.
const auditWriteTimeout = 2 * time.Second

// recordAudit stores one patch request. Failures are logged and never reach
// the caller.
func (s *Server) recordAudit(ctx context.Context, claims *auth.CustomClaims, entry audit.AuditLog) {
	if s.audit == nil {
		return
	}
	if claims != nil {
		entry.Subject = claims.Subject
		entry.Role = string(claims.Role)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, &entry); err != nil {
		s.logger.Warn("recording audit log failed", "action", entry.Action, "error", err)
	}
}

// auditOutcome maps a request error to the stored outcome and reason.
func auditOutcome(err error) (audit.Outcome, string) {
	if err != nil {
		return audit.OutcomeRejected, err.Error()
	}
	return audit.OutcomeAccepted, ""
}

// handleListAudit pages through recorded patch requests, newest first.
//
// Query parameters: action, subject, outcome, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is disabled")
		return
	}

	filter, msg := parseAuditFilter(r)
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseAuditFilter(r *http.Request) (audit.Filter, string) {
	q := r.URL.Query()
	f := audit.Filter{Subject: q.Get("subject")}

	switch a := audit.Action(q.Get("action")); a {
	case "", audit.ActionConnect, audit.ActionDisconnect, audit.ActionResync:
		f.Action = a
	default:
		return f, "unknown action: " + string(a)
	}
	switch o := audit.Outcome(q.Get("outcome")); o {
	case "", audit.OutcomeAccepted, audit.OutcomeRejected:
		f.Outcome = o
	default:
		return f, "unknown outcome: " + string(o)
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
