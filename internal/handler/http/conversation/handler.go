package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/service/conversation"
	"mediconnect-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// CreateConversationRequest represents create conversation request
type CreateConversationRequest struct {
	Kind           string   `json:"kind" binding:"required,oneof=direct group care_team emergency"`
	ParticipantIDs []string `json:"participant_ids"`
	IsEncrypted    bool     `json:"is_encrypted"`
	RetentionDays  int      `json:"retention_days"`
}

// AddParticipantRequest represents an invitation
type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"omitempty,oneof=admin moderator participant observer"`
}

// NotifyPrefsRequest represents per-participant notification toggles
type NotifyPrefsRequest struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
}

// CreateTemplateRequest registers a quick-response template
type CreateTemplateRequest struct {
	Label    string `json:"label" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Category string `json:"category"`
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

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// CreateConversation creates a new conversation
// POST /v1/conversations
func (h *Handler) CreateConversation(c *gin.Context) {
	creatorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participantIDs := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participantIDs = append(participantIDs, id)
	}

	created, err := h.conversationService.Create(c.Request.Context(), creatorID, &domain.ConversationCreate{
		Kind:           domain.ConversationKind(req.Kind),
		ParticipantIDs: participantIDs,
		IsEncrypted:    req.IsEncrypted,
		RetentionDays:  req.RetentionDays,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// GetConversation retrieves a conversation
// GET /v1/conversations/:conversation_id
func (h *Handler) GetConversation(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetByID(c.Request.Context(), conversationID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// AddParticipant invites a user into a conversation
// POST /v1/conversations/:conversation_id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	requesterID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	if err := h.conversationService.AddParticipant(c.Request.Context(), conversationID, requesterID, userID,
		domain.ParticipantRole(req.Role)); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message": "Participant added",
	})
}

// GetParticipants lists a conversation's participants
// GET /v1/conversations/:conversation_id/participants
func (h *Handler) GetParticipants(c *gin.Context) {
	requesterID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	participants, err := h.conversationService.GetParticipants(c.Request.Context(), conversationID, requesterID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"participants": participants,
	})
}

// UpdateNotifyPrefs stores the caller's notification toggles
// PUT /v1/conversations/:conversation_id/notify-prefs
func (h *Handler) UpdateNotifyPrefs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	var req NotifyPrefsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.conversationService.UpdateNotifyPrefs(c.Request.Context(), conversationID, userID, domain.NotifyPrefs{
		Push:  req.Push,
		Email: req.Email,
	}); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Preferences updated",
	})
}

// DeactivateConversation closes a conversation to new messages
// DELETE /v1/conversations/:conversation_id
func (h *Handler) DeactivateConversation(c *gin.Context) {
	requesterID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "conversation_id")
	if !ok {
		return
	}

	if err := h.conversationService.Deactivate(c.Request.Context(), conversationID, requesterID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Conversation deactivated",
	})
}

// CreateTemplate registers a quick-response template
// POST /v1/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	template, err := h.conversationService.CreateTemplate(c.Request.Context(), ownerID, req.Label, req.Body, req.Category)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, template)
}

// ListTemplates lists the caller's active templates
// GET /v1/templates?category=intro
func (h *Handler) ListTemplates(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	templates, err := h.conversationService.ListTemplates(c.Request.Context(), ownerID, c.Query("category"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"templates": templates,
	})
}

// DeleteTemplate soft-removes a template
// DELETE /v1/templates/:template_id
func (h *Handler) DeleteTemplate(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	templateID, ok := pathUUID(c, "template_id")
	if !ok {
		return
	}

	if err := h.conversationService.DeleteTemplate(c.Request.Context(), templateID, ownerID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Template deleted",
	})
}
