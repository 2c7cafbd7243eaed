package storage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/service/storage"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/response"
)

// Handler handles attachment HTTP requests
type Handler struct {
	storageService *storage.Service
	auditLogger    *audit.AuditLogger
}

// NewHandler creates a new storage handler. auditLogger may be nil in
// tests.
func NewHandler(storageService *storage.Service, auditLogger *audit.AuditLogger) *Handler {
	return &Handler{
		storageService: storageService,
		auditLogger:    auditLogger,
	}
}

// PresignUploadRequest describes the attachment to store
type PresignUploadRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required,min=1"`
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

// PresignUpload registers an attachment and returns a presigned PUT URL
// POST /v1/messages/:message_id/attachments
func (h *Handler) PresignUpload(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message_id")
		return
	}

	var req PresignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.storageService.PresignUpload(c.Request.Context(), &storage.PresignUploadInput{
		MessageID:   messageID,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// PresignDownload returns a presigned GET URL for an attachment
// GET /v1/attachments/:attachment_id/url
func (h *Handler) PresignDownload(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	attachmentID, err := uuid.Parse(c.Param("attachment_id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment_id")
		return
	}

	downloadURL, err := h.storageService.PresignDownload(c.Request.Context(), attachmentID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"download_url": downloadURL,
	})
}

// ListAttachments lists a message's attachments
// GET /v1/messages/:message_id/attachments
func (h *Handler) ListAttachments(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message_id")
		return
	}

	attachments, err := h.storageService.ListByMessage(c.Request.Context(), messageID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attachments": attachments,
	})
}

// DeleteAttachment removes an attachment
// DELETE /v1/attachments/:attachment_id
func (h *Handler) DeleteAttachment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	attachmentID, err := uuid.Parse(c.Param("attachment_id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment_id")
		return
	}

	if err := h.storageService.Delete(c.Request.Context(), attachmentID); err != nil {
		response.FromError(c, err)
		return
	}

	if h.auditLogger != nil {
		if err := h.auditLogger.LogAttachmentDelete(c.Request.Context(), userID, attachmentID); err != nil {
			logger.Warn("Failed to audit attachment deletion", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Attachment deleted",
	})
}
