package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/internal/repository/cockroach"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
)

// SessionStore is the durable session state machine.
type SessionStore interface {
	Create(ctx context.Context, session *domain.CallSession) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)
	Join(ctx context.Context, sessionID, userID uuid.UUID) (*cockroach.JoinResult, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID) (*cockroach.LeaveResult, error)
	TransitionStatus(ctx context.Context, sessionID uuid.UUID, expected []domain.SessionStatus, next domain.SessionStatus) (*domain.CallSession, error)
	SetConsent(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool) (*domain.CallSession, error)
	SetCaptureState(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool, statusGuard []domain.SessionStatus) (*domain.CallSession, error)
	SetArtifactURLs(ctx context.Context, sessionID uuid.UUID, recordingURL, transcriptURL *string) error
	GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error)
}

// Announcer posts system messages into the linked conversation.
type Announcer interface {
	SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error)
}

// EscalationDispatcher receives session transitions for rule
// evaluation. Dispatch must never block.
type EscalationDispatcher interface {
	Dispatch(ev *domain.TriggerEvent)
}

// Service coordinates video-consultation sessions: the lifecycle state
// machine, consent-gated recording and transcription, and emergency
// escalation. Every observed transition is announced as a system
// message in the session's conversation.
type Service struct {
	sessionRepo SessionStore
	announcer   Announcer
	escalations EscalationDispatcher
}

// NewService creates a new session service. announcer and escalations
// may be nil.
func NewService(sessionRepo SessionStore, announcer Announcer, escalations EscalationDispatcher) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		announcer:   announcer,
		escalations: escalations,
	}
}

// CreateInput describes a new consultation session.
type CreateInput struct {
	AppointmentID  uuid.UUID
	ConversationID uuid.UUID
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
}

// Create provisions a session in the waiting state with a fresh join
// token.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*domain.CallSession, error) {
	if input.DoctorID == input.PatientID {
		return nil, apperrors.InvalidParticipantSetError()
	}
	if input.DoctorID == uuid.Nil || input.PatientID == uuid.Nil {
		return nil, apperrors.InvalidParticipantSetError()
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.CallSession{
		SessionID:      uuid.New(),
		AppointmentID:  input.AppointmentID,
		ConversationID: input.ConversationID,
		DoctorID:       input.DoctorID,
		PatientID:      input.PatientID,
		SessionToken:   token,
		Status:         domain.SessionWaiting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	logger.Log.Info("session created",
		zap.String("session_id", session.SessionID.String()),
		zap.String("appointment_id", session.AppointmentID.String()))

	return session, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GetByID retrieves a session.
func (s *Service) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	return s.sessionRepo.GetByID(ctx, sessionID)
}

// Join lets the doctor or patient enter the session. The first joiner
// moves waiting to connecting; the second moves connecting to active.
func (s *Service) Join(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != session.DoctorID && userID != session.PatientID {
		return nil, apperrors.NotAParticipantError()
	}

	result, err := s.sessionRepo.Join(ctx, sessionID, userID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition) {
			metrics.SessionTransitionRejectedTotal.WithLabelValues(string(session.Status), string(domain.SessionConnecting)).Inc()
		}
		return nil, err
	}
	if result.AlreadyJoined {
		return result.Session, nil
	}

	s.recordTransition(ctx, result.Session, result.From, result.Session.Status, userID, "participant joined")

	return result.Session, nil
}

// Leave removes a participant. The last leaver ends an active session;
// a solitary leaver sends a connecting session back to waiting.
func (s *Service) Leave(ctx context.Context, sessionID, userID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != session.DoctorID && userID != session.PatientID {
		return nil, apperrors.NotAParticipantError()
	}

	result, err := s.sessionRepo.Leave(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, result.Session, result.From, result.Session.Status, userID, "participant left")

	return result.Session, nil
}

// EscalateToEmergency force-terminates a consultation into the
// emergency state. Only valid from connecting or active; emergency is
// terminal and cannot be left.
func (s *Service) EscalateToEmergency(ctx context.Context, sessionID, actorID uuid.UUID, reason string) (*domain.CallSession, error) {
	before, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.TransitionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.SessionConnecting, domain.SessionActive},
		domain.SessionEmergency)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition) {
			metrics.SessionTransitionRejectedTotal.WithLabelValues(string(before.Status), string(domain.SessionEmergency)).Inc()
		}
		return nil, err
	}

	metrics.SessionEmergencyEscalationTotal.Inc()
	logger.Log.Warn("session escalated to emergency",
		zap.String("session_id", sessionID.String()),
		zap.String("actor_id", actorID.String()),
		zap.String("reason", reason))

	s.recordTransition(ctx, session, before.Status, domain.SessionEmergency, actorID, reason)

	return session, nil
}

// recordTransition handles the bookkeeping common to every observed
// state change: metrics, the system message, and escalation dispatch.
// A no-op transition (from == to) records nothing.
func (s *Service) recordTransition(ctx context.Context, session *domain.CallSession, from, to domain.SessionStatus, actorID uuid.UUID, reason string) {
	if from == to {
		return
	}

	metrics.SessionTransitionTotal.WithLabelValues(string(from), string(to)).Inc()
	switch {
	case to == domain.SessionActive:
		metrics.SessionActive.Inc()
	case from == domain.SessionActive:
		metrics.SessionActive.Dec()
	}
	if to == domain.SessionEnded {
		metrics.SessionDurationMinutes.Observe(float64(session.DurationMinutes))
	}

	priority := domain.PriorityNormal
	if to == domain.SessionEmergency {
		priority = domain.PriorityEmergency
	}
	s.announce(ctx, session, actorID, fmt.Sprintf("consultation %s", to), priority)
	s.dispatch(session, from, to, actorID, reason)
}

func (s *Service) announce(ctx context.Context, session *domain.CallSession, actorID uuid.UUID, content string, priority domain.Priority) {
	if s.announcer == nil || session.ConversationID == uuid.Nil {
		return
	}
	if _, err := s.announcer.SendSystemMessage(ctx, session.ConversationID, actorID, content, priority); err != nil {
		logger.Log.Warn("failed to announce session transition",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
	}
}

func (s *Service) dispatch(session *domain.CallSession, from, to domain.SessionStatus, actorID uuid.UUID, reason string) {
	if s.escalations == nil {
		return
	}
	s.escalations.Dispatch(&domain.TriggerEvent{
		OwnerID:        session.DoctorID,
		ConversationID: session.ConversationID,
		Session: &domain.SessionTransition{
			SessionID: session.SessionID,
			From:      from,
			To:        to,
			ActorID:   actorID,
			Reason:    reason,
			At:        time.Now().UTC(),
		},
	})
}

// SetConsent records the independent recording/transcript consent
// flags. Only the doctor or patient may set them.
func (s *Service) SetConsent(ctx context.Context, sessionID, userID uuid.UUID, recording, transcript *bool) (*domain.CallSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != session.DoctorID && userID != session.PatientID {
		return nil, apperrors.NotAParticipantError()
	}

	return s.sessionRepo.SetConsent(ctx, sessionID, recording, transcript)
}

// StartRecording begins capture. Both consent flags must be set and
// the session must be active.
func (s *Service) StartRecording(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.ConsentGiven() {
		metrics.SessionConsentRejectedTotal.Inc()
		return nil, apperrors.ConsentRequiredError()
	}

	on := true
	session, err = s.sessionRepo.SetCaptureState(ctx, sessionID, &on, nil,
		[]domain.SessionStatus{domain.SessionActive})
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound) {
			return nil, apperrors.InvalidTransitionError(string(domain.SessionActive), "recording")
		}
		return nil, err
	}

	s.announce(ctx, session, actorID, "recording started", domain.PriorityNormal)

	return session, nil
}

// StopRecording halts capture and optionally stores the artifact URL.
func (s *Service) StopRecording(ctx context.Context, sessionID, actorID uuid.UUID, recordingURL *string) (*domain.CallSession, error) {
	off := false
	session, err := s.sessionRepo.SetCaptureState(ctx, sessionID, &off, nil, nil)
	if err != nil {
		return nil, err
	}
	if recordingURL != nil {
		if err := s.sessionRepo.SetArtifactURLs(ctx, sessionID, recordingURL, nil); err != nil {
			return nil, err
		}
		session.RecordingURL = recordingURL
	}

	s.announce(ctx, session, actorID, "recording stopped", domain.PriorityNormal)

	return session, nil
}

// StartTranscription begins live transcription under the same consent
// gate as recording.
func (s *Service) StartTranscription(ctx context.Context, sessionID, actorID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.ConsentGiven() {
		metrics.SessionConsentRejectedTotal.Inc()
		return nil, apperrors.ConsentRequiredError()
	}

	on := true
	session, err = s.sessionRepo.SetCaptureState(ctx, sessionID, nil, &on,
		[]domain.SessionStatus{domain.SessionActive})
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound) {
			return nil, apperrors.InvalidTransitionError(string(domain.SessionActive), "transcription")
		}
		return nil, err
	}

	return session, nil
}

// StopTranscription halts transcription and optionally stores the
// transcript URL.
func (s *Service) StopTranscription(ctx context.Context, sessionID uuid.UUID, transcriptURL *string) (*domain.CallSession, error) {
	off := false
	session, err := s.sessionRepo.SetCaptureState(ctx, sessionID, nil, &off, nil)
	if err != nil {
		return nil, err
	}
	if transcriptURL != nil {
		if err := s.sessionRepo.SetArtifactURLs(ctx, sessionID, nil, transcriptURL); err != nil {
			return nil, err
		}
		session.TranscriptURL = transcriptURL
	}

	return session, nil
}

// GetParticipants lists session participants.
func (s *Service) GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error) {
	return s.sessionRepo.GetParticipants(ctx, sessionID)
}
