package chat

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/service/presence"
	"mediconnect-backend/internal/service/router"
	"mediconnect-backend/internal/service/suggest"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/response"
)

// Handler handles messaging HTTP requests
type Handler struct {
	router      *router.Service
	presence    *presence.Service
	suggest     *suggest.Service
	auditLogger *audit.AuditLogger
}

// NewHandler creates a new chat handler. auditLogger may be nil in tests.
func NewHandler(routerService *router.Service, presenceService *presence.Service, suggestService *suggest.Service, auditLogger *audit.AuditLogger) *Handler {
	return &Handler{
		router:      routerService,
		presence:    presenceService,
		suggest:     suggestService,
		auditLogger: auditLogger,
	}
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	Type      string                 `json:"type" binding:"required,oneof=text voice file image video template"`
	Content   string                 `json:"content"`
	ReplyTo   *string                `json:"reply_to,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// UpdateStatusRequest represents a delivery status report
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=sent delivered read failed"`
}

// GetMessagesQuery represents query parameters for listing messages
type GetMessagesQuery struct {
	Limit     int    `form:"limit"`
	PageState string `form:"page_state"` // Base64 encoded
}

// currentUserID extracts the authenticated user set by the auth middleware
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

// pathUUID parses a UUID path parameter
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// SendMessage handles sending a new message
// POST /v1/conversations/:conversation_id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	senderID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var replyTo *uuid.UUID
	if req.ReplyTo != nil {
		parsed, err := uuid.Parse(*req.ReplyTo)
		if err != nil {
			response.ValidationError(c, "Invalid reply_to")
			return
		}
		replyTo = &parsed
	}

	output, err := h.router.Send(c.Request.Context(), &router.SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Draft: domain.MessageDraft{
			Type:      domain.MessageType(req.Type),
			Content:   req.Content,
			ReplyTo:   replyTo,
			Priority:  domain.Priority(req.Priority),
			ExpiresAt: req.ExpiresAt,
			Metadata:  req.Metadata,
			RequestID: req.RequestID,
		},
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusCreated
	if output.Replayed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{
		"message":  output.Message,
		"replayed": output.Replayed,
	})
}

// GetMessages retrieves conversation messages in send order
// GET /v1/conversations/:conversation_id/messages?limit=20&page_state=base64
func (h *Handler) GetMessages(c *gin.Context) {
	requesterID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var query GetMessagesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if query.Limit > 100 {
		query.Limit = 100
	}

	var pageState []byte
	if query.PageState != "" {
		decoded, err := base64.StdEncoding.DecodeString(query.PageState)
		if err != nil {
			response.ValidationError(c, "Invalid page state")
			return
		}
		pageState = decoded
	}

	output, err := h.router.ListMessages(c.Request.Context(), &router.ListInput{
		ConversationID: conversationID,
		RequesterID:    requesterID,
		Limit:          query.Limit,
		PageState:      pageState,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	var nextPageState string
	if len(output.NextPageState) > 0 {
		nextPageState = base64.StdEncoding.EncodeToString(output.NextPageState)
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":        output.Messages,
		"next_page_state": nextPageState,
		"has_more":        output.HasMore,
	})
}

// UpdateStatus records a recipient's delivery status report
// POST /v1/conversations/:conversation_id/messages/:message_id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	recipientID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "message_id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	status, err := h.router.UpdateStatus(c.Request.Context(), &router.UpdateStatusInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Status:         domain.DeliveryState(req.Status),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// DeleteMessage soft-deletes a message
// DELETE /v1/conversations/:conversation_id/messages/:message_id
func (h *Handler) DeleteMessage(c *gin.Context) {
	requesterID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "message_id")
	if !ok {
		return
	}

	if err := h.router.SoftDelete(c.Request.Context(), conversationID, messageID, requesterID); err != nil {
		response.FromError(c, err)
		return
	}

	if h.auditLogger != nil {
		if err := h.auditLogger.LogMessageDelete(c.Request.Context(), requesterID, conversationID, messageID); err != nil {
			logger.Warn("Failed to audit message deletion", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Message deleted",
	})
}

// UpdatePresenceRequest toggles a participant's active flag
type UpdatePresenceRequest struct {
	Active             bool       `json:"active"`
	ObservedActivation *time.Time `json:"observed_activation,omitempty"`
}

// UpdatePresence activates or deactivates the caller in a conversation
// POST /v1/conversations/:conversation_id/presence
func (h *Handler) UpdatePresence(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var req UpdatePresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if req.Active {
		activatedAt, err := h.presence.Activate(c.Request.Context(), conversationID, userID)
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"active":       true,
			"activated_at": activatedAt,
		})
		return
	}

	if req.ObservedActivation == nil {
		response.ValidationError(c, "observed_activation is required to deactivate")
		return
	}

	applied, err := h.presence.Deactivate(c.Request.Context(), conversationID, userID, *req.ObservedActivation)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"active":  false,
		"applied": applied,
	})
}

// Heartbeat refreshes the caller's liveness in a conversation
// POST /v1/conversations/:conversation_id/presence/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	if err := h.presence.Heartbeat(c.Request.Context(), conversationID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Heartbeat recorded",
	})
}

// GetPresence lists active participants of a conversation
// GET /v1/conversations/:conversation_id/presence
func (h *Handler) GetPresence(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	active, err := h.presence.ActiveParticipants(c.Request.Context(), conversationID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"active_participants": active,
	})
}

// GetSuggestions returns ranked quick replies for the caller
// GET /v1/conversations/:conversation_id/suggestions?limit=3
func (h *Handler) GetSuggestions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	suggestions := h.suggest.Suggest(c.Request.Context(), conversationID, userID, query.Limit)

	response.Success(c, http.StatusOK, gin.H{
		"suggestions": suggestions,
	})
}
