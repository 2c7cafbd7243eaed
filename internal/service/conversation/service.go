package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
)

// Store is the durable conversation state.
type Store interface {
	Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error)
	UpdateNotifyPrefs(ctx context.Context, conversationID, userID uuid.UUID, prefs domain.NotifyPrefs) error
	Deactivate(ctx context.Context, conversationID uuid.UUID) error
}

// TemplateStore manages quick-response templates.
type TemplateStore interface {
	Create(ctx context.Context, t *domain.MessageTemplate) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error)
	Deactivate(ctx context.Context, templateID, ownerID uuid.UUID) error
}

// Service manages conversation lifecycle and membership.
type Service struct {
	store     Store
	templates TemplateStore
}

// NewService creates a new conversation service. templates may be nil.
func NewService(store Store, templates TemplateStore) *Service {
	return &Service{store: store, templates: templates}
}

const defaultRetentionDays = 365

// Create opens a conversation. Direct conversations need exactly two
// participants; the creator becomes admin. Encrypted conversations get
// a key reference minted up front.
func (s *Service) Create(ctx context.Context, createdBy uuid.UUID, input *domain.ConversationCreate) (*domain.Conversation, error) {
	if !input.Kind.Valid() {
		return nil, apperrors.InvalidInputError("unknown conversation kind")
	}

	// Validated before the creator is merged in: only broadcasts may
	// open with no one else on the roster.
	if len(input.ParticipantIDs) == 0 && input.Kind != domain.ConversationBroadcast {
		return nil, apperrors.InvalidParticipantSetError()
	}

	participants := dedupe(append([]uuid.UUID{createdBy}, input.ParticipantIDs...))
	if input.Kind == domain.ConversationDirect && len(participants) != 2 {
		return nil, apperrors.InvalidParticipantSetError()
	}

	retention := input.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}

	now := time.Now().UTC()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Kind:           input.Kind,
		CreatedBy:      createdBy,
		IsEncrypted:    input.IsEncrypted,
		RetentionDays:  retention,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.IsEncrypted {
		keyRef := uuid.NewString()
		conversation.KeyRef = &keyRef
	}

	if err := s.store.Create(ctx, conversation, participants); err != nil {
		return nil, err
	}

	logger.Log.Info("conversation created",
		zap.String("conversation_id", conversation.ConversationID.String()),
		zap.String("kind", string(conversation.Kind)),
		zap.Int("participants", len(participants)))

	return conversation, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetByID retrieves a conversation.
func (s *Service) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	return s.store.GetByID(ctx, conversationID)
}

// AddParticipant invites a user. Only admins and moderators may
// invite; rejoining a previously-left conversation reactivates the
// old row.
func (s *Service) AddParticipant(ctx context.Context, conversationID, requesterID, userID uuid.UUID, role domain.ParticipantRole) error {
	requester, err := s.store.GetParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return apperrors.NotAParticipantError()
	}
	if !requester.Role.CanModerate() {
		return apperrors.ForbiddenError("only admins and moderators can add participants")
	}
	if role == "" {
		role = domain.RoleParticipant
	}

	return s.store.AddParticipant(ctx, conversationID, userID, role)
}

// GetParticipants lists a conversation's participants; callers must be
// members themselves.
func (s *Service) GetParticipants(ctx context.Context, conversationID, requesterID uuid.UUID) ([]*domain.Participant, error) {
	if _, err := s.store.GetParticipant(ctx, conversationID, requesterID); err != nil {
		return nil, apperrors.NotAParticipantError()
	}
	return s.store.GetParticipants(ctx, conversationID)
}

// UpdateNotifyPrefs stores a participant's own notification toggles.
func (s *Service) UpdateNotifyPrefs(ctx context.Context, conversationID, userID uuid.UUID, prefs domain.NotifyPrefs) error {
	return s.store.UpdateNotifyPrefs(ctx, conversationID, userID, prefs)
}

// Deactivate closes a conversation to new messages. Admin only; a
// conversation under legal hold stays open in the repository layer.
func (s *Service) Deactivate(ctx context.Context, conversationID, requesterID uuid.UUID) error {
	requester, err := s.store.GetParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return apperrors.NotAParticipantError()
	}
	if requester.Role != domain.RoleAdmin {
		return apperrors.ForbiddenError("only admins can close a conversation")
	}

	return s.store.Deactivate(ctx, conversationID)
}

// CreateTemplate registers a quick-response template for its owner.
func (s *Service) CreateTemplate(ctx context.Context, ownerID uuid.UUID, label, body, category string) (*domain.MessageTemplate, error) {
	if label == "" {
		return nil, apperrors.MissingFieldError("label")
	}
	if body == "" {
		return nil, apperrors.MissingFieldError("body")
	}

	template := &domain.MessageTemplate{
		TemplateID: uuid.New(),
		OwnerID:    ownerID,
		Label:      label,
		Body:       body,
		Category:   category,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.templates.Create(ctx, template); err != nil {
		return nil, err
	}

	return template, nil
}

// ListTemplates lists the owner's active templates.
func (s *Service) ListTemplates(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error) {
	return s.templates.ListByOwner(ctx, ownerID, category)
}

// DeleteTemplate soft-removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, templateID, ownerID uuid.UUID) error {
	return s.templates.Deactivate(ctx, templateID, ownerID)
}
