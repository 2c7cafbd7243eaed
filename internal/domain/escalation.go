package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EscalationAction identifies what an escalation level does when it fires.
type EscalationAction string

const (
	ActionNotifyContacts    EscalationAction = "notify_emergency_contacts"
	ActionBroadcastOnCall   EscalationAction = "broadcast_on_call"
	ActionElevatePriority   EscalationAction = "elevate_priority"
	ActionOpenEmergencyRoom EscalationAction = "open_emergency_conversation"
)

// EscalationTrigger is the structured predicate an incoming event is
// matched against. Zero-valued fields are ignored.
type EscalationTrigger struct {
	MinPriority      Priority         `json:"min_priority,omitempty"`
	ContentPattern   string           `json:"content_pattern,omitempty"`
	ConversationKind ConversationKind `json:"conversation_kind,omitempty"`
	SessionEvent     SessionStatus    `json:"session_event,omitempty"`
}

// EscalationLevel is one step of a rule's timed ladder.
type EscalationLevel struct {
	Action EscalationAction `json:"action"`
	Delay  time.Duration    `json:"delay"`
}

// EscalationRule is an owner-scoped trigger with an ordered list of
// levels walked until the event is resolved.
// Maps to CockroachDB escalation_rules table.
type EscalationRule struct {
	RuleID    uuid.UUID         `json:"rule_id" db:"rule_id"`
	OwnerID   uuid.UUID         `json:"owner_id" db:"owner_id"`
	Name      string            `json:"name" db:"name"`
	Trigger   EscalationTrigger `json:"trigger" db:"trigger"`
	Levels    []EscalationLevel `json:"levels" db:"levels"`
	IsActive  bool              `json:"is_active" db:"is_active"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// TriggerEvent is the input the escalation engine evaluates: either a
// routed message or a session transition.
type TriggerEvent struct {
	OwnerID        uuid.UUID
	ConversationID uuid.UUID
	Kind           ConversationKind
	Message        *Message
	Session        *SessionTransition
}

// Matches evaluates the rule's trigger against an event.
func (r *EscalationRule) Matches(ev *TriggerEvent) bool {
	if !r.IsActive {
		return false
	}
	t := r.Trigger
	if t.ConversationKind != "" && ev.Kind != t.ConversationKind {
		return false
	}
	if t.SessionEvent != "" {
		return ev.Session != nil && ev.Session.To == t.SessionEvent
	}
	if ev.Message == nil {
		return t.MinPriority == "" && t.ContentPattern == ""
	}
	if t.MinPriority != "" && !ev.Message.Priority.AtLeast(t.MinPriority) {
		return false
	}
	if t.ContentPattern != "" && !strings.Contains(strings.ToLower(ev.Message.Content), strings.ToLower(t.ContentPattern)) {
		return false
	}
	return true
}

// EscalationState is the resolution state of an escalation event.
type EscalationState string

const (
	EscalationPending  EscalationState = "pending"
	EscalationResolved EscalationState = "resolved"
	EscalationFailed   EscalationState = "failed"
)

// EscalationEvent records one matched rule walking its levels.
// Maps to CockroachDB escalation_events table; kept queryable so failed
// escalations never silently disappear.
type EscalationEvent struct {
	EventID        uuid.UUID       `json:"event_id" db:"event_id"`
	RuleID         uuid.UUID       `json:"rule_id" db:"rule_id"`
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	MessageID      *uuid.UUID      `json:"message_id,omitempty" db:"message_id"`
	SessionID      *uuid.UUID      `json:"session_id,omitempty" db:"session_id"`
	LevelReached   int             `json:"level_reached" db:"level_reached"`
	State          EscalationState `json:"state" db:"state"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ResolvedBy     *uuid.UUID      `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
