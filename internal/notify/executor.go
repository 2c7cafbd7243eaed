package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/push"
)

// Directory resolves escalation recipients.
type Directory interface {
	EmergencyContacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	OnCallStaff(ctx context.Context) ([]uuid.UUID, error)
}

// ConversationCreator opens new conversations, used by the
// open_emergency_conversation action.
type ConversationCreator interface {
	Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error
}

// Announcer posts system messages, used by elevate_priority.
type Announcer interface {
	SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error)
}

// Executor carries out escalation actions. Unlike the Sink it reports
// errors to the caller: the escalation engine owns the retry policy
// and needs to know when an action did not land.
type Executor struct {
	pusher        Pusher
	directory     Directory
	conversations ConversationCreator
	announcer     Announcer
}

// NewExecutor creates an escalation action executor.
func NewExecutor(pusher Pusher, directory Directory, conversations ConversationCreator, announcer Announcer) *Executor {
	return &Executor{
		pusher:        pusher,
		directory:     directory,
		conversations: conversations,
		announcer:     announcer,
	}
}

// SetAnnouncer installs the system-message announcer. The executor and
// the message router reference each other, so the announcer is bound
// after both exist. Must be called before the escalation engine starts.
func (e *Executor) SetAnnouncer(announcer Announcer) {
	e.announcer = announcer
}

// Execute runs one escalation action against a trigger event.
func (e *Executor) Execute(ctx context.Context, action domain.EscalationAction, event *domain.TriggerEvent) error {
	switch action {
	case domain.ActionNotifyContacts:
		return e.notifyContacts(ctx, event)
	case domain.ActionBroadcastOnCall:
		return e.broadcastOnCall(ctx, event)
	case domain.ActionElevatePriority:
		return e.elevatePriority(ctx, event)
	case domain.ActionOpenEmergencyRoom:
		return e.openEmergencyConversation(ctx, event)
	}
	return apperrors.InvalidInputError(fmt.Sprintf("unknown escalation action %q", action))
}

func (e *Executor) notifyContacts(ctx context.Context, event *domain.TriggerEvent) error {
	contacts, err := e.directory.EmergencyContacts(ctx, event.OwnerID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		logger.Log.Warn("no emergency contacts registered",
			zap.String("owner_id", event.OwnerID.String()))
		return nil
	}

	return e.pusher.SendCustomNotification(ctx, &push.Notification{
		Title:    "Emergency alert",
		Body:     "A patient conversation requires immediate attention",
		Priority: "high",
		Sound:    "emergency.caf",
		Data:     e.eventData(event),
	}, contacts)
}

func (e *Executor) broadcastOnCall(ctx context.Context, event *domain.TriggerEvent) error {
	staff, err := e.directory.OnCallStaff(ctx)
	if err != nil {
		return err
	}
	if len(staff) == 0 {
		return fmt.Errorf("on-call roster is empty")
	}

	return e.pusher.SendCustomNotification(ctx, &push.Notification{
		Title:    "On-call escalation",
		Body:     "An unresolved emergency needs on-call coverage",
		Priority: "high",
		Sound:    "emergency.caf",
		Data:     e.eventData(event),
	}, staff)
}

func (e *Executor) elevatePriority(ctx context.Context, event *domain.TriggerEvent) error {
	if e.announcer == nil {
		return nil
	}
	content := "escalation: conversation elevated to emergency priority"
	if event.Message != nil {
		content = fmt.Sprintf("escalation: message %s elevated to emergency priority", event.Message.MessageID)
	}
	_, err := e.announcer.SendSystemMessage(ctx, event.ConversationID, event.OwnerID, content, domain.PriorityEmergency)
	return err
}

func (e *Executor) openEmergencyConversation(ctx context.Context, event *domain.TriggerEvent) error {
	staff, err := e.directory.OnCallStaff(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Kind:           domain.ConversationEmergency,
		CreatedBy:      event.OwnerID,
		IsActive:       true,
		Metadata: map[string]interface{}{
			"source_conversation_id": event.ConversationID.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.conversations.Create(ctx, conversation, staff); err != nil {
		return err
	}

	logger.Log.Warn("emergency conversation opened",
		zap.String("conversation_id", conversation.ConversationID.String()),
		zap.String("source_conversation_id", event.ConversationID.String()))

	return nil
}

func (e *Executor) eventData(event *domain.TriggerEvent) map[string]string {
	data := map[string]string{
		"conversation_id": event.ConversationID.String(),
	}
	if event.Message != nil {
		data["message_id"] = event.Message.MessageID.String()
	}
	if event.Session != nil {
		data["session_id"] = event.Session.SessionID.String()
	}
	return data
}
