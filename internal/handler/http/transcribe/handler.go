package transcribe

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/service/router"
	"mediconnect-backend/internal/service/storage"
	"mediconnect-backend/internal/service/transcribe"
	"mediconnect-backend/pkg/response"
)

// Handler handles transcription trigger requests. The upload flow is
// presigned, so the backend never sees the bytes go by; clients call
// this endpoint once a voice clip has landed to kick off transcription.
type Handler struct {
	transcribeService *transcribe.Service
	storageService    *storage.Service
	routerService     *router.Service
}

// NewHandler creates a new transcribe handler
func NewHandler(transcribeService *transcribe.Service, storageService *storage.Service, routerService *router.Service) *Handler {
	return &Handler{
		transcribeService: transcribeService,
		storageService:    storageService,
		routerService:     routerService,
	}
}

// TranscribeRequest identifies the conversation of the voice message
type TranscribeRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,uuid"`
	Language       string `json:"language"`
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

// Transcribe starts async transcription of an uploaded voice clip
// POST /v1/attachments/:attachment_id/transcriptions
func (h *Handler) Transcribe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	attachmentID, err := uuid.Parse(c.Param("attachment_id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment_id")
		return
	}

	var req TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	conversationID, _ := uuid.Parse(req.ConversationID)

	attachment, err := h.storageService.GetAttachment(c.Request.Context(), attachmentID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	message, err := h.routerService.GetMessage(c.Request.Context(), conversationID, attachment.MessageID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if message.Type != domain.MessageTypeVoice {
		response.ValidationError(c, "Attachment does not belong to a voice message")
		return
	}

	// Best effort: the voice message stands on its own if
	// transcription fails.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		h.transcribeService.ProcessVoiceMessage(ctx, message, attachment.ObjectKey, req.Language)
	}()

	response.Success(c, http.StatusAccepted, gin.H{
		"attachment_id": attachmentID,
		"status":        "processing",
	})
}
