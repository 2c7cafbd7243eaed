package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a video-consultation session.
type SessionStatus string

const (
	SessionWaiting    SessionStatus = "waiting"
	SessionConnecting SessionStatus = "connecting"
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
	SessionEmergency  SessionStatus = "emergency"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionEmergency
}

// CanTransition reports whether moving from s to next is a legal edge of
// the session state machine:
//
//	waiting -> connecting -> active -> ended
//
// with emergency reachable from connecting or active, and the single
// documented backward edge connecting -> waiting when a solitary party
// leaves before the consultation has started.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionWaiting:
		return next == SessionConnecting
	case SessionConnecting:
		return next == SessionActive || next == SessionEnded ||
			next == SessionEmergency || next == SessionWaiting
	case SessionActive:
		return next == SessionEnded || next == SessionEmergency
	}
	return false
}

// CallSession represents a single video-consultation occurrence, linked
// to an appointment and to a conversation that carries its transcript.
// Maps to CockroachDB call_sessions table.
type CallSession struct {
	SessionID          uuid.UUID     `json:"session_id" db:"session_id"`
	AppointmentID      uuid.UUID     `json:"appointment_id" db:"appointment_id"`
	ConversationID     uuid.UUID     `json:"conversation_id" db:"conversation_id"`
	DoctorID           uuid.UUID     `json:"doctor_id" db:"doctor_id"`
	PatientID          uuid.UUID     `json:"patient_id" db:"patient_id"`
	SessionToken       string        `json:"session_token" db:"session_token"`
	Status             SessionStatus `json:"status" db:"status"`
	StartedAt          *time.Time    `json:"started_at,omitempty" db:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	DurationMinutes    int           `json:"duration_minutes" db:"duration_minutes"`
	RecordingConsent   bool          `json:"recording_consent" db:"recording_consent"`
	TranscriptConsent  bool          `json:"transcript_consent" db:"transcript_consent"`
	RecordingActive    bool          `json:"recording_active" db:"recording_active"`
	TranscriptActive   bool          `json:"transcript_active" db:"transcript_active"`
	RecordingURL       *string       `json:"recording_url,omitempty" db:"recording_url"`
	TranscriptURL      *string       `json:"transcript_url,omitempty" db:"transcript_url"`
	EmergencyEscalated bool          `json:"emergency_escalated" db:"emergency_escalated"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// ConsentGiven reports whether both consent flags required for recording
// or transcription are affirmatively set.
func (s *CallSession) ConsentGiven() bool {
	return s.RecordingConsent && s.TranscriptConsent
}

// SessionParticipant is a participant of a call session, distinct from
// the chat participants of the linked conversation.
// Maps to CockroachDB session_participants table.
type SessionParticipant struct {
	SessionID uuid.UUID  `json:"session_id" db:"session_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	JoinedAt  time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// SessionTransition describes one observed state change, used to emit
// system messages into the linked conversation.
type SessionTransition struct {
	SessionID uuid.UUID     `json:"session_id"`
	From      SessionStatus `json:"from"`
	To        SessionStatus `json:"to"`
	ActorID   uuid.UUID     `json:"actor_id"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}
