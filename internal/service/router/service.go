package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
	"mediconnect-backend/pkg/sanitize"
)

// ConversationStore is the conversation metadata the router needs.
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error)
	ListForRetention(ctx context.Context, limit int) ([]*domain.Conversation, error)
}

// MessageStore is the append-ordered message log.
type MessageStore interface {
	Append(message *domain.Message) error
	ListByConversation(conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error)
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	SoftDelete(conversationID, messageID uuid.UUID, createdAt time.Time) error
	ListOlderThan(conversationID uuid.UUID, cutoff time.Time, limit int) ([]*domain.Message, error)
	Delete(conversationID, messageID uuid.UUID, createdAt time.Time) error
}

// StatusStore holds per-recipient delivery status rows.
type StatusStore interface {
	Get(messageID, recipientID uuid.UUID) (*domain.MessageStatus, error)
	Upsert(status *domain.MessageStatus) error
	ListByMessage(messageID uuid.UUID) ([]*domain.MessageStatus, error)
	ListPendingForRecipient(conversationID, recipientID uuid.UUID, limit int) ([]*domain.MessageStatus, error)
}

// PresenceStore answers who is live in a conversation right now.
type PresenceStore interface {
	ActiveParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error)
}

// IdempotencyStore binds client request IDs to message IDs.
type IdempotencyStore interface {
	Claim(ctx context.Context, senderID, requestID, messageID string) (string, bool, error)
	Release(ctx context.Context, senderID, requestID string) error
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Sealer encrypts message content for encrypted conversations.
type Sealer interface {
	Seal(plaintext []byte, conversationID string) ([]byte, error)
	Open(sealed []byte, conversationID string) ([]byte, error)
}

// EscalationDispatcher receives routed events for rule evaluation.
// Dispatch must never block the send path.
type EscalationDispatcher interface {
	Dispatch(ev *domain.TriggerEvent)
}

// OfflineNotifier pushes a notification to recipients who had no live
// connection when a message landed. Implementations are fire-and-forget.
type OfflineNotifier interface {
	NotifyMany(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, title, body string, data map[string]string)
}

// Config tunes router behavior.
type Config struct {
	HeartbeatWindow time.Duration
	DefaultPageSize int
	RetentionBatch  int
	CatchUpBatch    int
}

// Service routes messages: validation, classification, ordered
// persistence, per-recipient status fan-out, and live publish.
type Service struct {
	conversationRepo ConversationStore
	messageRepo      MessageStore
	statusRepo       StatusStore
	presenceRepo     PresenceStore
	idempotencyRepo  IdempotencyStore
	publisher        Publisher
	sealer           Sealer
	classifier       Classifier
	escalations      EscalationDispatcher
	notifier         OfflineNotifier
	cfg              Config

	mu        sync.Mutex
	convLocks map[uuid.UUID]*sync.Mutex
}

// NewService creates a new router service. sealer and escalations may
// be nil, which disables encryption and escalation dispatch.
func NewService(
	conversationRepo ConversationStore,
	messageRepo MessageStore,
	statusRepo StatusStore,
	presenceRepo PresenceStore,
	idempotencyRepo IdempotencyStore,
	publisher Publisher,
	sealer Sealer,
	classifier Classifier,
	escalations EscalationDispatcher,
	cfg Config,
) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.RetentionBatch <= 0 {
		cfg.RetentionBatch = 500
	}
	if cfg.CatchUpBatch <= 0 {
		cfg.CatchUpBatch = 200
	}
	if cfg.HeartbeatWindow <= 0 {
		cfg.HeartbeatWindow = 90 * time.Second
	}
	return &Service{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		statusRepo:       statusRepo,
		presenceRepo:     presenceRepo,
		idempotencyRepo:  idempotencyRepo,
		publisher:        publisher,
		sealer:           sealer,
		classifier:       classifier,
		escalations:      escalations,
		cfg:              cfg,
		convLocks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetOfflineNotifier installs the push outlet for recipients without a
// live connection. Set after construction, before traffic.
func (s *Service) SetOfflineNotifier(notifier OfflineNotifier) {
	s.notifier = notifier
}

// lockConversation serializes appends per conversation so every
// conversation log has one total order.
func (s *Service) lockConversation(conversationID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.convLocks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.convLocks[conversationID] = l
	}
	return l
}

// ConversationChannel is the pub/sub channel for a conversation's
// live events.
func ConversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conv:%s", conversationID)
}

// Event is the wire envelope published to live subscribers.
type Event struct {
	Event   string                `json:"event"` // "message", "status", "deleted"
	Message *domain.Message       `json:"message,omitempty"`
	Status  *domain.MessageStatus `json:"status,omitempty"`
}

// SendInput carries a draft into the router.
type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Draft          domain.MessageDraft
}

// SendOutput is the accepted message plus whether this was an
// idempotent replay of an earlier send.
type SendOutput struct {
	Message  *domain.Message
	Replayed bool
}

// Send validates, classifies, persists and fans out one message.
func (s *Service) Send(ctx context.Context, input *SendInput) (*SendOutput, error) {
	draft := input.Draft
	if draft.Type == "" {
		draft.Type = domain.MessageTypeText
	}
	if draft.Priority == "" {
		draft.Priority = domain.PriorityNormal
	}
	if !draft.Type.Valid() {
		metrics.RouterMessageRejectedTotal.WithLabelValues("invalid_type").Inc()
		return nil, apperrors.InvalidInputError("unknown message type")
	}
	if !draft.Priority.Valid() {
		metrics.RouterMessageRejectedTotal.WithLabelValues("invalid_priority").Inc()
		return nil, apperrors.InvalidInputError("unknown priority")
	}
	draft.Content = sanitize.StripControlCharacters(draft.Content)
	if draft.Content == "" {
		metrics.RouterMessageRejectedTotal.WithLabelValues("empty_content").Inc()
		return nil, apperrors.MissingFieldError("content")
	}

	conversation, err := s.conversationRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		metrics.RouterMessageRejectedTotal.WithLabelValues("conversation_not_found").Inc()
		return nil, err
	}
	if !conversation.IsActive {
		metrics.RouterMessageRejectedTotal.WithLabelValues("conversation_inactive").Inc()
		return nil, apperrors.ConversationInactiveError()
	}

	sender, err := s.conversationRepo.GetParticipant(ctx, input.ConversationID, input.SenderID)
	if err != nil || sender.HasLeft() {
		metrics.RouterMessageRejectedTotal.WithLabelValues("not_a_participant").Inc()
		return nil, apperrors.NotAParticipantError()
	}
	if !sender.Role.CanPost() {
		metrics.RouterMessageRejectedTotal.WithLabelValues("readonly_sender").Inc()
		return nil, apperrors.ForbiddenError("read-only participants cannot send messages")
	}

	if draft.ReplyTo != nil {
		if _, err := s.messageRepo.GetByID(input.ConversationID, *draft.ReplyTo); err != nil {
			metrics.RouterMessageRejectedTotal.WithLabelValues("invalid_reply").Inc()
			return nil, apperrors.InvalidReplyError()
		}
	}

	priority := draft.Priority
	if s.classifier != nil {
		priority = s.classifier.Classify(draft.Content, draft.Priority)
		if priority == domain.PriorityEmergency && draft.Priority != domain.PriorityEmergency {
			metrics.RouterEmergencyOverrideTotal.Inc()
			logger.Log.Warn("message force-classified to emergency",
				zap.String("conversation_id", input.ConversationID.String()),
				zap.String("sender_id", input.SenderID.String()))
		}
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Type:           draft.Type,
		Content:        draft.Content,
		ReplyTo:        draft.ReplyTo,
		Priority:       priority,
		ExpiresAt:      draft.ExpiresAt,
		Metadata:       draft.Metadata,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if priority == domain.PriorityEmergency {
		// Emergency messages never expire.
		message.ExpiresAt = nil
	}

	if draft.RequestID != "" && s.idempotencyRepo != nil {
		boundID, won, err := s.idempotencyRepo.Claim(ctx,
			input.SenderID.String(), draft.RequestID, message.MessageID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if !won {
			existingID, err := uuid.Parse(boundID)
			if err != nil {
				return nil, apperrors.ConflictError("request id bound to an unparsable message id")
			}
			existing, err := s.messageRepo.GetByID(input.ConversationID, existingID)
			if err != nil {
				return nil, err
			}
			metrics.RouterIdempotentReplayTotal.Inc()
			return &SendOutput{Message: s.render(existing, conversation), Replayed: true}, nil
		}
	}

	if conversation.IsEncrypted && s.sealer != nil {
		sealed, err := s.sealer.Seal([]byte(message.Content), message.ConversationID.String())
		if err != nil {
			s.releaseClaim(ctx, input.SenderID, draft.RequestID)
			return nil, fmt.Errorf("failed to seal message content: %w", err)
		}
		message.CipherText = sealed
		message.Content = ""
	}

	lock := s.lockConversation(input.ConversationID)
	lock.Lock()
	persistStart := time.Now()
	err = s.messageRepo.Append(message)
	lock.Unlock()
	if err != nil {
		s.releaseClaim(ctx, input.SenderID, draft.RequestID)
		return nil, err
	}
	metrics.RouterSendDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())

	s.fanOutStatuses(ctx, conversation, message)
	s.publish(ctx, message.ConversationID, &Event{Event: "message", Message: s.render(message, conversation)})

	// Only high and emergency traffic reaches the escalation engine;
	// routine messages must never page anyone.
	if s.escalations != nil && message.Priority.AtLeast(domain.PriorityHigh) {
		s.escalations.Dispatch(&domain.TriggerEvent{
			OwnerID:        conversation.CreatedBy,
			ConversationID: conversation.ConversationID,
			Kind:           conversation.Kind,
			Message:        s.render(message, conversation),
		})
	}

	metrics.RouterMessageAcceptedTotal.WithLabelValues(string(message.Type), string(message.Priority)).Inc()
	logger.Log.Info("message routed",
		zap.String("conversation_id", message.ConversationID.String()),
		zap.String("message_id", message.MessageID.String()),
		zap.String("priority", string(message.Priority)))

	return &SendOutput{Message: s.render(message, conversation)}, nil
}

func (s *Service) releaseClaim(ctx context.Context, senderID uuid.UUID, requestID string) {
	if requestID == "" || s.idempotencyRepo == nil {
		return
	}
	if err := s.idempotencyRepo.Release(ctx, senderID.String(), requestID); err != nil {
		logger.Log.Warn("failed to release idempotency claim", zap.Error(err))
	}
}

// fanOutStatuses writes one status row per member: delivered for
// members with live presence, sent for everyone else, left members
// excluded. An offline member always gets a sent row so reconnect
// catch-up can promote it; they also get a push. Failures here are
// logged, not returned.
func (s *Service) fanOutStatuses(ctx context.Context, conversation *domain.Conversation, message *domain.Message) {
	start := time.Now()
	defer func() {
		metrics.RouterSendDuration.WithLabelValues("fanout").Observe(time.Since(start).Seconds())
	}()

	participants, err := s.conversationRepo.GetParticipants(ctx, conversation.ConversationID)
	if err != nil {
		logger.Log.Error("failed to load participants for fan-out", zap.Error(err))
		return
	}

	var present map[string]time.Time
	if s.presenceRepo != nil {
		present, err = s.presenceRepo.ActiveParticipants(ctx, conversation.ConversationID.String(), s.cfg.HeartbeatWindow)
		if err != nil {
			logger.Log.Warn("failed to read presence for fan-out", zap.Error(err))
		}
	}

	var offline []uuid.UUID
	for _, p := range participants {
		if p.HasLeft() || p.UserID == message.SenderID {
			continue
		}
		state := domain.StatusSent
		if _, ok := present[p.UserID.String()]; ok {
			state = domain.StatusDelivered
		}
		status := &domain.MessageStatus{
			MessageID:      message.MessageID,
			ConversationID: message.ConversationID,
			RecipientID:    p.UserID,
			Status:         state,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := s.statusRepo.Upsert(status); err != nil {
			logger.Log.Error("failed to write status row",
				zap.String("message_id", message.MessageID.String()),
				zap.String("recipient_id", p.UserID.String()),
				zap.Error(err))
			continue
		}
		metrics.RouterStatusFanoutTotal.WithLabelValues(string(state)).Inc()
		if state == domain.StatusSent {
			offline = append(offline, p.UserID)
		}
	}

	if s.notifier != nil && len(offline) > 0 {
		title := "New message"
		if message.Priority == domain.PriorityEmergency {
			title = "Emergency message"
		}
		// Content stays out of the push payload.
		s.notifier.NotifyMany(ctx, conversation.ConversationID, offline, title,
			"You have a new message", map[string]string{
				"conversation_id": conversation.ConversationID.String(),
				"message_id":      message.MessageID.String(),
				"priority":        string(message.Priority),
			})
	}
}

func (s *Service) publish(ctx context.Context, conversationID uuid.UUID, event *Event) {
	start := time.Now()
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, ConversationChannel(conversationID), payload); err != nil {
		metrics.RouterPublishErrorTotal.Inc()
		logger.Log.Warn("failed to publish event",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
	}
	metrics.RouterSendDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())
}

// render returns the message as callers should see it: ciphertext
// opened for encrypted conversations, content blanked once expired.
// The stored row is never mutated.
func (s *Service) render(message *domain.Message, conversation *domain.Conversation) *domain.Message {
	out := *message
	if conversation.IsEncrypted && s.sealer != nil && len(out.CipherText) > 0 {
		plain, err := s.sealer.Open(out.CipherText, out.ConversationID.String())
		if err != nil {
			logger.Log.Error("failed to open message content",
				zap.String("message_id", out.MessageID.String()),
				zap.Error(err))
		} else {
			out.Content = string(plain)
		}
		out.CipherText = nil
	}
	if out.Expired(time.Now().UTC()) {
		out.Content = ""
		out.CipherText = nil
	}
	return &out
}

// ListInput pages through a conversation's messages in order.
type ListInput struct {
	ConversationID uuid.UUID
	RequesterID    uuid.UUID
	Limit          int
	PageState      []byte
}

// ListOutput carries one ascending page plus a restartable cursor.
type ListOutput struct {
	Messages      []*domain.Message
	NextPageState []byte
	HasMore       bool
}

// ListMessages returns messages in creation order. Only participants
// may read; expired content comes back blanked.
func (s *Service) ListMessages(ctx context.Context, input *ListInput) (*ListOutput, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversationRepo.GetParticipant(ctx, input.ConversationID, input.RequesterID); err != nil {
		return nil, apperrors.NotAParticipantError()
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}

	messages, nextPageState, err := s.messageRepo.ListByConversation(input.ConversationID, limit, input.PageState)
	if err != nil {
		return nil, err
	}

	rendered := make([]*domain.Message, len(messages))
	for i, m := range messages {
		rendered[i] = s.render(m, conversation)
	}

	return &ListOutput{
		Messages:      rendered,
		NextPageState: nextPageState,
		HasMore:       len(nextPageState) > 0,
	}, nil
}

// GetMessage returns a single rendered message. Only participants may
// read.
func (s *Service) GetMessage(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) (*domain.Message, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversationRepo.GetParticipant(ctx, conversationID, requesterID); err != nil {
		return nil, apperrors.NotAParticipantError()
	}

	message, err := s.messageRepo.GetByID(conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, apperrors.NotFoundError("Message")
	}

	return s.render(message, conversation), nil
}

// UpdateStatusInput is one recipient reporting delivery progress.
type UpdateStatusInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	RecipientID    uuid.UUID
	Status         domain.DeliveryState
}

// UpdateStatus advances a recipient's delivery state. The chain only
// moves forward; repeating the current state is an idempotent no-op
// and a backward move is rejected.
func (s *Service) UpdateStatus(ctx context.Context, input *UpdateStatusInput) (*domain.MessageStatus, error) {
	if _, err := s.conversationRepo.GetParticipant(ctx, input.ConversationID, input.RecipientID); err != nil {
		return nil, apperrors.NotAParticipantError()
	}

	current, err := s.statusRepo.Get(input.MessageID, input.RecipientID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NotFoundError("Message status")
	}

	if current.Status == input.Status {
		return current, nil
	}
	if !current.Status.CanTransition(input.Status) {
		return nil, apperrors.InvalidStatusTransitionError(string(current.Status), string(input.Status))
	}

	current.Status = input.Status
	current.UpdatedAt = time.Now().UTC()
	if err := s.statusRepo.Upsert(current); err != nil {
		return nil, err
	}

	s.publish(ctx, input.ConversationID, &Event{Event: "status", Status: current})

	return current, nil
}

// MarkDeliveredOnReconnect flips a recipient's still-sent rows to
// delivered when their connection comes back, giving at-least-once
// delivery across disconnects. Returns how many rows caught up.
func (s *Service) MarkDeliveredOnReconnect(ctx context.Context, conversationID, recipientID uuid.UUID) (int, error) {
	pending, err := s.statusRepo.ListPendingForRecipient(conversationID, recipientID, s.cfg.CatchUpBatch)
	if err != nil {
		return 0, err
	}

	caught := 0
	for _, status := range pending {
		status.Status = domain.StatusDelivered
		status.UpdatedAt = time.Now().UTC()
		if err := s.statusRepo.Upsert(status); err != nil {
			logger.Log.Error("failed to catch up status row",
				zap.String("message_id", status.MessageID.String()),
				zap.Error(err))
			continue
		}
		metrics.RouterStatusFanoutTotal.WithLabelValues(string(domain.StatusDelivered)).Inc()
		s.publish(ctx, conversationID, &Event{Event: "status", Status: status})
		caught++
	}

	return caught, nil
}

// SoftDelete clears a message's content while keeping the row for
// audit. Allowed for the sender and for conversation admins.
func (s *Service) SoftDelete(ctx context.Context, conversationID, messageID, requesterID uuid.UUID) error {
	message, err := s.messageRepo.GetByID(conversationID, messageID)
	if err != nil {
		return err
	}

	requester, err := s.conversationRepo.GetParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return apperrors.NotAParticipantError()
	}
	if message.SenderID != requesterID && requester.Role != domain.RoleAdmin {
		return apperrors.ForbiddenError("only the sender or an admin can delete a message")
	}

	if err := s.messageRepo.SoftDelete(conversationID, messageID, message.CreatedAt); err != nil {
		return err
	}

	message.Content = ""
	message.CipherText = nil
	message.Deleted = true
	s.publish(ctx, conversationID, &Event{Event: "deleted", Message: message})

	return nil
}

// SendSystemMessage appends a system-authored message, used for
// session lifecycle announcements. actorID is recorded as the sender
// but participant checks are skipped.
func (s *Service) SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if priority == "" {
		priority = domain.PriorityNormal
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       actorID,
		Type:           domain.MessageTypeSystem,
		Content:        content,
		Priority:       priority,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	lock := s.lockConversation(conversationID)
	lock.Lock()
	err = s.messageRepo.Append(message)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	s.fanOutStatuses(ctx, conversation, message)
	s.publish(ctx, conversationID, &Event{Event: "message", Message: message})

	metrics.RouterMessageAcceptedTotal.WithLabelValues(string(domain.MessageTypeSystem), string(priority)).Inc()

	return message, nil
}
