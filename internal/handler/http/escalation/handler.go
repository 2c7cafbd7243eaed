package escalation

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/service/escalation"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/response"
)

// Handler handles escalation rule and event HTTP requests
type Handler struct {
	escalationService *escalation.Service
	auditLogger       *audit.AuditLogger
}

// NewHandler creates a new escalation handler. auditLogger may be nil
// in tests.
func NewHandler(escalationService *escalation.Service, auditLogger *audit.AuditLogger) *Handler {
	return &Handler{
		escalationService: escalationService,
		auditLogger:       auditLogger,
	}
}

// RuleLevelRequest is one step of a rule's timed ladder
type RuleLevelRequest struct {
	Action       string `json:"action" binding:"required,oneof=notify_emergency_contacts broadcast_on_call elevate_priority open_emergency_conversation"`
	DelaySeconds int    `json:"delay_seconds" binding:"min=0"`
}

// RuleTriggerRequest is the structured predicate of a rule
type RuleTriggerRequest struct {
	MinPriority      string `json:"min_priority" binding:"omitempty,oneof=low normal high emergency"`
	ContentPattern   string `json:"content_pattern"`
	ConversationKind string `json:"conversation_kind" binding:"omitempty,oneof=direct group broadcast emergency"`
	SessionEvent     string `json:"session_event" binding:"omitempty,oneof=waiting connecting active emergency ended"`
}

// CreateRuleRequest registers an escalation rule
type CreateRuleRequest struct {
	Name    string             `json:"name" binding:"required"`
	Trigger RuleTriggerRequest `json:"trigger"`
	Levels  []RuleLevelRequest `json:"levels" binding:"required,min=1,dive"`
}

// SetRuleActiveRequest toggles a rule
type SetRuleActiveRequest struct {
	Active bool `json:"active"`
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// CreateRule registers an escalation rule for the caller
// POST /v1/escalation/rules
func (h *Handler) CreateRule(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	levels := make([]domain.EscalationLevel, 0, len(req.Levels))
	for _, level := range req.Levels {
		levels = append(levels, domain.EscalationLevel{
			Action: domain.EscalationAction(level.Action),
			Delay:  time.Duration(level.DelaySeconds) * time.Second,
		})
	}

	rule := &domain.EscalationRule{
		RuleID:  uuid.New(),
		OwnerID: ownerID,
		Name:    req.Name,
		Trigger: domain.EscalationTrigger{
			MinPriority:      domain.Priority(req.Trigger.MinPriority),
			ContentPattern:   req.Trigger.ContentPattern,
			ConversationKind: domain.ConversationKind(req.Trigger.ConversationKind),
			SessionEvent:     domain.SessionStatus(req.Trigger.SessionEvent),
		},
		Levels:   levels,
		IsActive: true,
	}

	if err := h.escalationService.CreateRule(c.Request.Context(), rule); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, rule)
}

// SetRuleActive toggles an escalation rule
// PUT /v1/escalation/rules/:rule_id/active
func (h *Handler) SetRuleActive(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	ruleID, err := uuid.Parse(c.Param("rule_id"))
	if err != nil {
		response.ValidationError(c, "Invalid rule_id")
		return
	}

	var req SetRuleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.escalationService.SetRuleActive(c.Request.Context(), ruleID, req.Active); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"rule_id": ruleID,
		"active":  req.Active,
	})
}

// ListEvents lists escalation events for a conversation
// GET /v1/conversations/:conversation_id/escalations?limit=20&offset=0
func (h *Handler) ListEvents(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation_id")
		return
	}

	var query struct {
		Limit  int `form:"limit"`
		Offset int `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}

	events, err := h.escalationService.ListEvents(c.Request.Context(), conversationID, query.Limit, query.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"events": events,
	})
}

// ResolveEvent acknowledges an escalation, halting its ladder
// POST /v1/escalations/:event_id/resolve
func (h *Handler) ResolveEvent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		response.ValidationError(c, "Invalid event_id")
		return
	}

	applied, err := h.escalationService.Resolve(c.Request.Context(), eventID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if applied && h.auditLogger != nil {
		if err := h.auditLogger.LogEscalationResolve(c.Request.Context(), userID, eventID); err != nil {
			logger.Warn("Failed to audit escalation resolution", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"event_id": eventID,
		"resolved": applied,
	})
}
