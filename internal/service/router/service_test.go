package router

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

// Mocks

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockConversationStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockConversationStore) ListForRetention(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Append(message *domain.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageStore) ListByConversation(conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	args := m.Called(conversationID, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]*domain.Message), args.Get(1).([]byte), args.Error(2)
}

func (m *MockMessageStore) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(conversationID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageStore) SoftDelete(conversationID, messageID uuid.UUID, createdAt time.Time) error {
	args := m.Called(conversationID, messageID, createdAt)
	return args.Error(0)
}

func (m *MockMessageStore) ListOlderThan(conversationID uuid.UUID, cutoff time.Time, limit int) ([]*domain.Message, error) {
	args := m.Called(conversationID, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageStore) Delete(conversationID, messageID uuid.UUID, createdAt time.Time) error {
	args := m.Called(conversationID, messageID, createdAt)
	return args.Error(0)
}

type MockStatusStore struct {
	mock.Mock
}

func (m *MockStatusStore) Get(messageID, recipientID uuid.UUID) (*domain.MessageStatus, error) {
	args := m.Called(messageID, recipientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageStatus), args.Error(1)
}

func (m *MockStatusStore) Upsert(status *domain.MessageStatus) error {
	args := m.Called(status)
	return args.Error(0)
}

func (m *MockStatusStore) ListByMessage(messageID uuid.UUID) ([]*domain.MessageStatus, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MessageStatus), args.Error(1)
}

func (m *MockStatusStore) ListPendingForRecipient(conversationID, recipientID uuid.UUID, limit int) ([]*domain.MessageStatus, error) {
	args := m.Called(conversationID, recipientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MessageStatus), args.Error(1)
}

type MockPresenceStore struct {
	mock.Mock
}

func (m *MockPresenceStore) ActiveParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error) {
	args := m.Called(ctx, conversationID, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]time.Time), args.Error(1)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Claim(ctx context.Context, senderID, requestID, messageID string) (string, bool, error) {
	args := m.Called(ctx, senderID, requestID, messageID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, senderID, requestID string) error {
	args := m.Called(ctx, senderID, requestID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ev *domain.TriggerEvent) {
	m.Called(ev)
}

type MockOfflineNotifier struct {
	mock.Mock
}

func (m *MockOfflineNotifier) NotifyMany(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, title, body string, data map[string]string) {
	m.Called(ctx, conversationID, userIDs, title, body, data)
}

type fixture struct {
	conversations *MockConversationStore
	messages      *MockMessageStore
	statuses      *MockStatusStore
	presence      *MockPresenceStore
	idempotency   *MockIdempotencyStore
	publisher     *MockPublisher
	dispatcher    *MockDispatcher
	notifier      *MockOfflineNotifier
	service       *Service
}

func newFixture() *fixture {
	f := &fixture{
		conversations: new(MockConversationStore),
		messages:      new(MockMessageStore),
		statuses:      new(MockStatusStore),
		presence:      new(MockPresenceStore),
		idempotency:   new(MockIdempotencyStore),
		publisher:     new(MockPublisher),
		dispatcher:    new(MockDispatcher),
		notifier:      new(MockOfflineNotifier),
	}
	classifier := NewMarkerClassifier([]string{"🚨", "EMERGENCIA", "EMERGENCY"})
	f.service = NewService(
		f.conversations, f.messages, f.statuses, f.presence, f.idempotency,
		f.publisher, nil, classifier, f.dispatcher, Config{},
	)
	f.service.SetOfflineNotifier(f.notifier)
	return f
}

func activeParticipant(conversationID, userID uuid.UUID, role domain.ParticipantRole) *domain.Participant {
	return &domain.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		IsActive:       true,
		ActivatedAt:    time.Now().Add(-time.Minute),
	}
}

func TestSendNormalMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	doctorID := uuid.New()
	patientID := uuid.New()

	conversation := &domain.Conversation{
		ConversationID: conversationID,
		Kind:           domain.ConversationDirect,
		CreatedBy:      doctorID,
		IsActive:       true,
	}

	f.conversations.On("GetByID", ctx, conversationID).Return(conversation, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, doctorID).
		Return(activeParticipant(conversationID, doctorID, domain.RoleParticipant), nil)
	f.conversations.On("GetParticipants", ctx, conversationID).Return([]*domain.Participant{
		activeParticipant(conversationID, doctorID, domain.RoleParticipant),
		activeParticipant(conversationID, patientID, domain.RoleParticipant),
	}, nil)
	f.presence.On("ActiveParticipants", ctx, conversationID.String(), mock.Anything).
		Return(map[string]time.Time{patientID.String(): time.Now()}, nil)
	f.messages.On("Append", mock.AnythingOfType("*domain.Message")).Return(nil)
	f.statuses.On("Upsert", mock.AnythingOfType("*domain.MessageStatus")).Return(nil)
	f.publisher.On("Publish", ctx, "conv:"+conversationID.String(), mock.Anything).Return(nil)

	output, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       doctorID,
		Draft:          domain.MessageDraft{Content: "Hola"},
	})

	assert.NoError(t, err)
	assert.False(t, output.Replayed)
	assert.Equal(t, domain.PriorityNormal, output.Message.Priority)
	assert.Equal(t, domain.MessageTypeText, output.Message.Type)
	assert.Equal(t, "Hola", output.Message.Content)

	// The live recipient gets a delivered row straight away.
	f.statuses.AssertCalled(t, "Upsert", mock.MatchedBy(func(s *domain.MessageStatus) bool {
		return s.RecipientID == patientID && s.Status == domain.StatusDelivered
	}))
	// Routine traffic never reaches the escalation engine.
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything)
	f.messages.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestSendFansOutToOfflineRecipient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	doctorID := uuid.New()
	offlineID := uuid.New()
	leftID := uuid.New()

	conversation := &domain.Conversation{
		ConversationID: conversationID,
		Kind:           domain.ConversationGroup,
		CreatedBy:      doctorID,
		IsActive:       true,
	}

	// The offline member has no live connection; the left member is no
	// longer part of the conversation at all.
	offline := activeParticipant(conversationID, offlineID, domain.RoleParticipant)
	offline.IsActive = false
	leftAt := time.Now().Add(-time.Hour)
	left := activeParticipant(conversationID, leftID, domain.RoleParticipant)
	left.IsActive = false
	left.LeftAt = &leftAt

	f.conversations.On("GetByID", ctx, conversationID).Return(conversation, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, doctorID).
		Return(activeParticipant(conversationID, doctorID, domain.RoleParticipant), nil)
	f.conversations.On("GetParticipants", ctx, conversationID).Return([]*domain.Participant{
		activeParticipant(conversationID, doctorID, domain.RoleParticipant),
		offline,
		left,
	}, nil)
	f.presence.On("ActiveParticipants", ctx, conversationID.String(), mock.Anything).
		Return(map[string]time.Time{}, nil)
	f.messages.On("Append", mock.AnythingOfType("*domain.Message")).Return(nil)
	f.statuses.On("Upsert", mock.AnythingOfType("*domain.MessageStatus")).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("NotifyMany", mock.Anything, conversationID, []uuid.UUID{offlineID},
		mock.Anything, mock.Anything, mock.Anything).Return()

	_, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       doctorID,
		Draft:          domain.MessageDraft{Content: "resultados listos"},
	})

	assert.NoError(t, err)

	// The offline member still gets a sent row so reconnect catch-up
	// can promote it later.
	f.statuses.AssertCalled(t, "Upsert", mock.MatchedBy(func(s *domain.MessageStatus) bool {
		return s.RecipientID == offlineID && s.Status == domain.StatusSent
	}))
	// Left members get neither a row nor a push.
	f.statuses.AssertNotCalled(t, "Upsert", mock.MatchedBy(func(s *domain.MessageStatus) bool {
		return s.RecipientID == leftID
	}))
	f.notifier.AssertExpectations(t)
}

func TestSendEmergencyMarkerOverridesPriority(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	patientID := uuid.New()

	conversation := &domain.Conversation{
		ConversationID: conversationID,
		Kind:           domain.ConversationDirect,
		CreatedBy:      patientID,
		IsActive:       true,
	}

	f.conversations.On("GetByID", ctx, conversationID).Return(conversation, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, patientID).
		Return(activeParticipant(conversationID, patientID, domain.RoleParticipant), nil)
	f.conversations.On("GetParticipants", ctx, conversationID).Return([]*domain.Participant{}, nil)
	f.presence.On("ActiveParticipants", ctx, conversationID.String(), mock.Anything).
		Return(map[string]time.Time{}, nil)
	f.messages.On("Append", mock.AnythingOfType("*domain.Message")).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)
	f.dispatcher.On("Dispatch", mock.AnythingOfType("*domain.TriggerEvent")).Return()

	expiry := time.Now().Add(time.Hour)
	output, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       patientID,
		Draft: domain.MessageDraft{
			Content:   "🚨 EMERGENCIA: ayuda",
			Priority:  domain.PriorityNormal,
			ExpiresAt: &expiry,
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.PriorityEmergency, output.Message.Priority)
	assert.Nil(t, output.Message.ExpiresAt, "emergency messages must not expire")

	// The escalation engine sees the overridden priority.
	f.dispatcher.AssertCalled(t, "Dispatch", mock.MatchedBy(func(ev *domain.TriggerEvent) bool {
		return ev.Message != nil && ev.Message.Priority == domain.PriorityEmergency
	}))
}

func TestSendRejectsNonParticipant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	strangerID := uuid.New()

	f.conversations.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		IsActive:       true,
	}, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, strangerID).
		Return(nil, apperrors.NotFoundError("Participant"))

	_, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       strangerID,
		Draft:          domain.MessageDraft{Content: "hello"},
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAParticipant))
	f.messages.AssertNotCalled(t, "Append", mock.Anything)
}

func TestSendRejectsInactiveConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	senderID := uuid.New()

	f.conversations.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		IsActive:       false,
	}, nil)

	_, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Draft:          domain.MessageDraft{Content: "hello"},
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConversationInactive))
}

func TestSendIdempotentReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	senderID := uuid.New()
	existingID := uuid.New()

	conversation := &domain.Conversation{
		ConversationID: conversationID,
		IsActive:       true,
	}
	existing := &domain.Message{
		MessageID:      existingID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           domain.MessageTypeText,
		Content:        "first attempt",
		Priority:       domain.PriorityNormal,
		CreatedAt:      time.Now().Add(-time.Second),
	}

	f.conversations.On("GetByID", ctx, conversationID).Return(conversation, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, senderID).
		Return(activeParticipant(conversationID, senderID, domain.RoleParticipant), nil)
	f.idempotency.On("Claim", ctx, senderID.String(), "req-1", mock.Anything).
		Return(existingID.String(), false, nil)
	f.messages.On("GetByID", conversationID, existingID).Return(existing, nil)

	output, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Draft:          domain.MessageDraft{Content: "first attempt", RequestID: "req-1"},
	})

	assert.NoError(t, err)
	assert.True(t, output.Replayed)
	assert.Equal(t, existingID, output.Message.MessageID)
	f.messages.AssertNotCalled(t, "Append", mock.Anything)
}

func TestSendRejectsInvalidReply(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	senderID := uuid.New()
	ghostID := uuid.New()

	f.conversations.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		IsActive:       true,
	}, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, senderID).
		Return(activeParticipant(conversationID, senderID, domain.RoleParticipant), nil)
	f.messages.On("GetByID", conversationID, ghostID).Return(nil, apperrors.MessageNotFoundError())

	_, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Draft:          domain.MessageDraft{Content: "re", ReplyTo: &ghostID},
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidReply))
}

func TestUpdateStatusAdvances(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	messageID := uuid.New()
	recipientID := uuid.New()

	f.conversations.On("GetParticipant", ctx, conversationID, recipientID).
		Return(activeParticipant(conversationID, recipientID, domain.RoleParticipant), nil)
	f.statuses.On("Get", messageID, recipientID).Return(&domain.MessageStatus{
		MessageID:      messageID,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Status:         domain.StatusDelivered,
	}, nil)
	f.statuses.On("Upsert", mock.AnythingOfType("*domain.MessageStatus")).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	status, err := f.service.UpdateStatus(ctx, &UpdateStatusInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Status:         domain.StatusRead,
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusRead, status.Status)
}

func TestUpdateStatusRejectsBackwardMove(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	messageID := uuid.New()
	recipientID := uuid.New()

	f.conversations.On("GetParticipant", ctx, conversationID, recipientID).
		Return(activeParticipant(conversationID, recipientID, domain.RoleParticipant), nil)
	f.statuses.On("Get", messageID, recipientID).Return(&domain.MessageStatus{
		MessageID:   messageID,
		RecipientID: recipientID,
		Status:      domain.StatusRead,
	}, nil)

	_, err := f.service.UpdateStatus(ctx, &UpdateStatusInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Status:         domain.StatusDelivered,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidStatusTransition))
	f.statuses.AssertNotCalled(t, "Upsert", mock.Anything)
}

func TestUpdateStatusRepeatIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	messageID := uuid.New()
	recipientID := uuid.New()

	f.conversations.On("GetParticipant", ctx, conversationID, recipientID).
		Return(activeParticipant(conversationID, recipientID, domain.RoleParticipant), nil)
	f.statuses.On("Get", messageID, recipientID).Return(&domain.MessageStatus{
		MessageID:   messageID,
		RecipientID: recipientID,
		Status:      domain.StatusRead,
	}, nil)

	status, err := f.service.UpdateStatus(ctx, &UpdateStatusInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		RecipientID:    recipientID,
		Status:         domain.StatusRead,
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusRead, status.Status)
	f.statuses.AssertNotCalled(t, "Upsert", mock.Anything)
}

func TestMarkDeliveredOnReconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	recipientID := uuid.New()

	pending := []*domain.MessageStatus{
		{MessageID: uuid.New(), ConversationID: conversationID, RecipientID: recipientID, Status: domain.StatusSent},
		{MessageID: uuid.New(), ConversationID: conversationID, RecipientID: recipientID, Status: domain.StatusSent},
	}

	f.statuses.On("ListPendingForRecipient", conversationID, recipientID, mock.AnythingOfType("int")).
		Return(pending, nil)
	f.statuses.On("Upsert", mock.MatchedBy(func(s *domain.MessageStatus) bool {
		return s.Status == domain.StatusDelivered
	})).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	caught, err := f.service.MarkDeliveredOnReconnect(ctx, conversationID, recipientID)

	assert.NoError(t, err)
	assert.Equal(t, 2, caught)
	f.statuses.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestSoftDeleteRequiresSenderOrAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	messageID := uuid.New()
	senderID := uuid.New()
	otherID := uuid.New()
	moderatorID := uuid.New()

	message := &domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "typo",
		CreatedAt:      time.Now().Add(-time.Minute),
	}

	f.messages.On("GetByID", conversationID, messageID).Return(message, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, otherID).
		Return(activeParticipant(conversationID, otherID, domain.RoleParticipant), nil)
	f.conversations.On("GetParticipant", ctx, conversationID, moderatorID).
		Return(activeParticipant(conversationID, moderatorID, domain.RoleModerator), nil)

	err := f.service.SoftDelete(ctx, conversationID, messageID, otherID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	// Moderators manage membership, not other people's messages.
	err = f.service.SoftDelete(ctx, conversationID, messageID, moderatorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	// An admin may delete someone else's message.
	adminID := uuid.New()
	f.conversations.On("GetParticipant", ctx, conversationID, adminID).
		Return(activeParticipant(conversationID, adminID, domain.RoleAdmin), nil)
	f.messages.On("SoftDelete", conversationID, messageID, message.CreatedAt).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	err = f.service.SoftDelete(ctx, conversationID, messageID, adminID)
	assert.NoError(t, err)
}

func TestRetentionSweepSkipsEmergencyAndHold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	heldID := uuid.New()
	normalID := uuid.New()

	conversations := []*domain.Conversation{
		{ConversationID: heldID, RetentionDays: 30, LegalHold: true},
		{ConversationID: normalID, RetentionDays: 30},
	}

	old := time.Now().AddDate(0, 0, -60)
	expired := []*domain.Message{
		{MessageID: uuid.New(), ConversationID: normalID, Priority: domain.PriorityEmergency, CreatedAt: old},
		{MessageID: uuid.New(), ConversationID: normalID, Priority: domain.PriorityNormal, CreatedAt: old},
	}

	f.conversations.On("ListForRetention", ctx, mock.AnythingOfType("int")).Return(conversations, nil)
	f.messages.On("ListOlderThan", normalID, mock.AnythingOfType("time.Time"), mock.AnythingOfType("int")).
		Return(expired, nil)
	f.messages.On("Delete", normalID, expired[1].MessageID, old).Return(nil)

	deleted, err := f.service.RunRetentionSweep(ctx)

	assert.NoError(t, err)
	assert.Equal(t, 1, deleted)
	// The held conversation is never scanned; the emergency row survives.
	f.messages.AssertNotCalled(t, "ListOlderThan", heldID, mock.Anything, mock.Anything)
	f.messages.AssertNumberOfCalls(t, "Delete", 1)
}

func TestSendHighPriorityDispatchesEscalation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conversationID := uuid.New()
	nurseID := uuid.New()

	f.conversations.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		Kind:           domain.ConversationGroup,
		CreatedBy:      nurseID,
		IsActive:       true,
	}, nil)
	f.conversations.On("GetParticipant", ctx, conversationID, nurseID).
		Return(activeParticipant(conversationID, nurseID, domain.RoleParticipant), nil)
	f.conversations.On("GetParticipants", ctx, conversationID).Return([]*domain.Participant{}, nil)
	f.presence.On("ActiveParticipants", ctx, conversationID.String(), mock.Anything).
		Return(map[string]time.Time{}, nil)
	f.messages.On("Append", mock.AnythingOfType("*domain.Message")).Return(nil)
	f.publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)
	f.dispatcher.On("Dispatch", mock.AnythingOfType("*domain.TriggerEvent")).Return()

	_, err := f.service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       nurseID,
		Draft:          domain.MessageDraft{Content: "tensión arterial en descenso", Priority: domain.PriorityHigh},
	})

	assert.NoError(t, err)
	f.dispatcher.AssertCalled(t, "Dispatch", mock.MatchedBy(func(ev *domain.TriggerEvent) bool {
		return ev.Message != nil && ev.Message.Priority == domain.PriorityHigh
	}))
}
