package video

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/service/session"
	"mediconnect-backend/pkg/audit"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/response"
)

// Handler handles consultation session HTTP requests
type Handler struct {
	sessionService *session.Service
	auditLogger    *audit.AuditLogger
}

// NewHandler creates a new video handler. auditLogger may be nil in tests.
func NewHandler(sessionService *session.Service, auditLogger *audit.AuditLogger) *Handler {
	return &Handler{
		sessionService: sessionService,
		auditLogger:    auditLogger,
	}
}

// CreateSessionRequest provisions a consultation session
type CreateSessionRequest struct {
	AppointmentID  string `json:"appointment_id" binding:"required,uuid"`
	ConversationID string `json:"conversation_id" binding:"required,uuid"`
	DoctorID       string `json:"doctor_id" binding:"required,uuid"`
	PatientID      string `json:"patient_id" binding:"required,uuid"`
}

// ConsentRequest records a participant's consent flags
type ConsentRequest struct {
	Recording  *bool `json:"recording"`
	Transcript *bool `json:"transcript"`
}

// EscalateRequest marks the session as an emergency
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// StopCaptureRequest carries the optional artifact location
type StopCaptureRequest struct {
	ArtifactURL *string `json:"artifact_url,omitempty"`
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

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.ValidationError(c, "Invalid session_id")
		return uuid.Nil, false
	}
	return id, true
}

// CreateSession provisions a session in the waiting state
// POST /v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	appointmentID, _ := uuid.Parse(req.AppointmentID)
	conversationID, _ := uuid.Parse(req.ConversationID)
	doctorID, _ := uuid.Parse(req.DoctorID)
	patientID, _ := uuid.Parse(req.PatientID)

	created, err := h.sessionService.Create(c.Request.Context(), &session.CreateInput{
		AppointmentID:  appointmentID,
		ConversationID: conversationID,
		DoctorID:       doctorID,
		PatientID:      patientID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// GetSession retrieves a session
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	found, err := h.sessionService.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}

// JoinSession admits the caller into the session
// POST /v1/sessions/:session_id/join
func (h *Handler) JoinSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	updated, err := h.sessionService.Join(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// LeaveSession removes the caller from the session
// POST /v1/sessions/:session_id/leave
func (h *Handler) LeaveSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	updated, err := h.sessionService.Leave(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// EscalateSession marks the session as an emergency
// POST /v1/sessions/:session_id/escalate
func (h *Handler) EscalateSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.sessionService.EscalateToEmergency(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.auditLogger != nil {
		if err := h.auditLogger.LogSessionEscalate(c.Request.Context(), userID, id, req.Reason); err != nil {
			logger.Warn("Failed to audit session escalation", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, updated)
}

// SetConsent records the caller's recording and transcript consent
// PUT /v1/sessions/:session_id/consent
func (h *Handler) SetConsent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.sessionService.SetConsent(c.Request.Context(), id, userID, req.Recording, req.Transcript)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.auditLogger != nil {
		details := fmt.Sprintf("recording=%v transcript=%v", formatConsent(req.Recording), formatConsent(req.Transcript))
		if err := h.auditLogger.LogConsentChange(c.Request.Context(), userID, id, details); err != nil {
			logger.Warn("Failed to audit consent change", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, updated)
}

func formatConsent(v *bool) string {
	if v == nil {
		return "unchanged"
	}
	return fmt.Sprintf("%t", *v)
}

// StartRecording begins session recording, consent permitting
// POST /v1/sessions/:session_id/recording/start
func (h *Handler) StartRecording(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	updated, err := h.sessionService.StartRecording(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// StopRecording ends session recording
// POST /v1/sessions/:session_id/recording/stop
func (h *Handler) StopRecording(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req StopCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.sessionService.StopRecording(c.Request.Context(), id, userID, req.ArtifactURL)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// StartTranscription begins live transcription, consent permitting
// POST /v1/sessions/:session_id/transcription/start
func (h *Handler) StartTranscription(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	updated, err := h.sessionService.StartTranscription(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// StopTranscription ends live transcription
// POST /v1/sessions/:session_id/transcription/stop
func (h *Handler) StopTranscription(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req StopCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.sessionService.StopTranscription(c.Request.Context(), id, req.ArtifactURL)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// GetSessionParticipants lists a session's participants
// GET /v1/sessions/:session_id/participants
func (h *Handler) GetSessionParticipants(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	participants, err := h.sessionService.GetParticipants(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"participants": participants,
	})
}
