package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the tagged variant discriminator for message content.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeVoice    MessageType = "voice"
	MessageTypeFile     MessageType = "file"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeTemplate MessageType = "template"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether the message type is a known variant.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeVoice, MessageTypeFile, MessageTypeImage, MessageTypeVideo, MessageTypeTemplate, MessageTypeSystem:
		return true
	}
	return false
}

// Priority of a message. Emergency messages are exempt from expiry and
// retention-driven deletion.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// rank orders priorities for at-least comparisons in escalation triggers.
func (p Priority) rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityEmergency:
		return 3
	}
	return -1
}

// AtLeast reports whether p is equal to or more urgent than other.
func (p Priority) AtLeast(other Priority) bool {
	return p.rank() >= other.rank()
}

// Message represents a chat message entity.
// Maps to Cassandra messages table, partitioned by conversation.
// Exactly one of Content/CipherText is populated: CipherText when the
// owning conversation is encrypted, Content otherwise.
type Message struct {
	MessageID      uuid.UUID              `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID              `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID              `json:"sender_id" cql:"sender_id"`
	Type           MessageType            `json:"type" cql:"type"`
	Content        string                 `json:"content,omitempty" cql:"content"`
	CipherText     []byte                 `json:"cipher_text,omitempty" cql:"cipher_text"`
	ReplyTo        *uuid.UUID             `json:"reply_to,omitempty" cql:"reply_to"`
	Priority       Priority               `json:"priority" cql:"priority"`
	Edited         bool                   `json:"edited" cql:"edited"`
	Deleted        bool                   `json:"deleted" cql:"deleted"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty" cql:"expires_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" cql:"metadata"`
	CreatedAt      time.Time              `json:"created_at" cql:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" cql:"updated_at"`
}

// Expired reports whether the message content is no longer readable.
// Emergency messages never expire regardless of ExpiresAt.
func (m *Message) Expired(now time.Time) bool {
	if m.Priority == PriorityEmergency {
		return false
	}
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// RetentionExempt reports whether the message must survive a retention sweep.
func (m *Message) RetentionExempt() bool {
	return m.Priority == PriorityEmergency
}

// DeliveryState is the per-recipient delivery status of a message.
type DeliveryState string

const (
	StatusSent      DeliveryState = "sent"
	StatusDelivered DeliveryState = "delivered"
	StatusRead      DeliveryState = "read"
	StatusFailed    DeliveryState = "failed"
)

// statusRank orders delivery states; failed sits outside the chain.
func (s DeliveryState) statusRank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is permitted.
// The chain sent -> delivered -> read only advances; failed is terminal
// and reachable from any non-failed state. Repeating the current state
// is allowed so status updates stay idempotent.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	if s == StatusFailed {
		return next == StatusFailed
	}
	if next == StatusFailed {
		return true
	}
	return next.statusRank() >= s.statusRank()
}

// MessageStatus tracks delivery status per (message, recipient).
// Maps to Cassandra message_status table.
type MessageStatus struct {
	MessageID      uuid.UUID     `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID     `json:"conversation_id" cql:"conversation_id"`
	RecipientID    uuid.UUID     `json:"recipient_id" cql:"recipient_id"`
	Status         DeliveryState `json:"status" cql:"status"`
	UpdatedAt      time.Time     `json:"updated_at" cql:"updated_at"`
}

// MessageDraft is caller-supplied input to the router, before
// classification and persistence.
type MessageDraft struct {
	Type      MessageType            `json:"type"`
	Content   string                 `json:"content"`
	ReplyTo   *uuid.UUID             `json:"reply_to,omitempty"`
	Priority  Priority               `json:"priority"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// MessageTemplate is a canned quick-response owned by a clinician or
// organization, referenced by template-type messages and by the smart
// reply suggester.
type MessageTemplate struct {
	TemplateID uuid.UUID `json:"template_id" db:"template_id"`
	OwnerID    uuid.UUID `json:"owner_id" db:"owner_id"`
	Label      string    `json:"label" db:"label"`
	Body       string    `json:"body" db:"body"`
	Category   string    `json:"category" db:"category"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Attachment links a message to an object-store artifact (voice clip,
// image, document). The bytes themselves live in MinIO.
type Attachment struct {
	AttachmentID uuid.UUID `json:"attachment_id" db:"attachment_id"`
	MessageID    uuid.UUID `json:"message_id" db:"message_id"`
	ObjectKey    string    `json:"object_key" db:"object_key"`
	ContentType  string    `json:"content_type" db:"content_type"`
	SizeBytes    int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
