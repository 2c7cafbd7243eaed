package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationKind classifies a conversation channel.
type ConversationKind string

const (
	ConversationDirect    ConversationKind = "direct"
	ConversationGroup     ConversationKind = "group"
	ConversationBroadcast ConversationKind = "broadcast"
	ConversationEmergency ConversationKind = "emergency"
)

// Valid reports whether the kind is one of the known values.
func (k ConversationKind) Valid() bool {
	switch k {
	case ConversationDirect, ConversationGroup, ConversationBroadcast, ConversationEmergency:
		return true
	}
	return false
}

// Conversation represents conversation metadata.
// Maps to CockroachDB conversations table.
type Conversation struct {
	ConversationID uuid.UUID              `json:"conversation_id" db:"conversation_id"`
	Kind           ConversationKind       `json:"kind" db:"kind"`
	CreatedBy      uuid.UUID              `json:"created_by" db:"created_by"`
	IsEncrypted    bool                   `json:"is_encrypted" db:"is_encrypted"`
	KeyRef         *string                `json:"key_ref,omitempty" db:"key_ref"`
	RetentionDays  int                    `json:"retention_days" db:"retention_days"`
	IsActive       bool                   `json:"is_active" db:"is_active"`
	LegalHold      bool                   `json:"legal_hold" db:"legal_hold"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// ParticipantRole is the role of a user inside a conversation.
type ParticipantRole string

const (
	RoleAdmin       ParticipantRole = "admin"
	RoleModerator   ParticipantRole = "moderator"
	RoleParticipant ParticipantRole = "participant"
	RoleReadOnly    ParticipantRole = "readonly"
)

// CanPost reports whether the role is allowed to author messages.
func (r ParticipantRole) CanPost() bool {
	return r != RoleReadOnly
}

// CanModerate reports whether the role may manage membership. Deleting
// other users' messages is stricter and stays admin-only.
func (r ParticipantRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

// NotifyPrefs holds per-participant notification channel toggles.
type NotifyPrefs struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Participant represents a user in a conversation.
// At most one row per (conversation, user) pair; rejoining reactivates
// the existing row instead of inserting a duplicate. Membership and
// liveness are separate axes: LeftAt marks a user who left the
// conversation, IsActive/ActivatedAt track whether they currently hold
// a live connection. An offline member is still a member.
// Maps to CockroachDB conversation_participants table.
type Participant struct {
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Role           ParticipantRole `json:"role" db:"role"`
	JoinedAt       time.Time       `json:"joined_at" db:"joined_at"`
	LeftAt         *time.Time      `json:"left_at,omitempty" db:"left_at"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	ActivatedAt    time.Time       `json:"activated_at" db:"activated_at"`
	NotifyPrefs    NotifyPrefs     `json:"notify_prefs" db:"notify_prefs"`
}

// HasLeft reports whether the user left the conversation. Left users
// keep their row for history but are no longer members.
func (p *Participant) HasLeft() bool {
	return p.LeftAt != nil
}

// ConversationCreate represents data to create a new conversation.
type ConversationCreate struct {
	Kind           ConversationKind `json:"kind" binding:"required,oneof=direct group broadcast emergency"`
	IsEncrypted    bool             `json:"is_encrypted"`
	RetentionDays  int              `json:"retention_days"`
	ParticipantIDs []uuid.UUID      `json:"participant_ids"`
}
