// Package auditlog exposes the audit trail for compliance reviews.
package auditlog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/response"
)

// Handler handles audit trail lookup requests
type Handler struct {
	auditLogger *audit.AuditLogger
}

// NewHandler creates a new audit log handler
func NewHandler(auditLogger *audit.AuditLogger) *Handler {
	return &Handler{auditLogger: auditLogger}
}

// ListEvents returns audit events filtered by user or event type,
// newest first.
// GET /v1/audit/events?user_id=...|type=...&limit=50&offset=0
func (h *Handler) ListEvents(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}

	var (
		events []*audit.AuditEvent
		err    error
	)
	switch {
	case c.Query("type") != "":
		events, err = h.auditLogger.GetEventsByType(
			c.Request.Context(), audit.AuditEventType(c.Query("type")), limit, offset)
	case c.Query("user_id") != "":
		userID, perr := uuid.Parse(c.Query("user_id"))
		if perr != nil {
			response.ValidationError(c, "Invalid user_id")
			return
		}
		events, err = h.auditLogger.GetEvents(c.Request.Context(), userID, limit, offset)
	default:
		response.ValidationError(c, "Either user_id or type is required")
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}
