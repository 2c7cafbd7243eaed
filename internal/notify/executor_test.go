package notify

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/push"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) SendCustomNotification(ctx context.Context, notification *push.Notification, userIDs []uuid.UUID) error {
	args := m.Called(ctx, notification, userIDs)
	return args.Error(0)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) EmergencyContacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockDirectory) OnCallStaff(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type MockConversationCreator struct {
	mock.Mock
}

func (m *MockConversationCreator) Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error {
	args := m.Called(ctx, conversation, participantIDs)
	return args.Error(0)
}

type MockAnnouncer struct {
	mock.Mock
}

func (m *MockAnnouncer) SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, actorID, content, priority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func triggerEvent() *domain.TriggerEvent {
	return &domain.TriggerEvent{
		OwnerID:        uuid.New(),
		ConversationID: uuid.New(),
		Message: &domain.Message{
			MessageID: uuid.New(),
			Priority:  domain.PriorityEmergency,
		},
	}
}

func TestNotifyContactsPushesToAll(t *testing.T) {
	pusher := new(MockPusher)
	directory := new(MockDirectory)
	executor := NewExecutor(pusher, directory, nil, nil)

	ev := triggerEvent()
	contacts := []uuid.UUID{uuid.New(), uuid.New()}

	directory.On("EmergencyContacts", mock.Anything, ev.OwnerID).Return(contacts, nil)
	pusher.On("SendCustomNotification", mock.Anything, mock.AnythingOfType("*push.Notification"), contacts).
		Return(nil)

	err := executor.Execute(context.Background(), domain.ActionNotifyContacts, ev)

	assert.NoError(t, err)
	pusher.AssertExpectations(t)
}

func TestBroadcastFailsOnEmptyRoster(t *testing.T) {
	pusher := new(MockPusher)
	directory := new(MockDirectory)
	executor := NewExecutor(pusher, directory, nil, nil)

	directory.On("OnCallStaff", mock.Anything).Return([]uuid.UUID{}, nil)

	err := executor.Execute(context.Background(), domain.ActionBroadcastOnCall, triggerEvent())

	// An empty roster must surface as an error so the engine retries.
	assert.Error(t, err)
	pusher.AssertNotCalled(t, "SendCustomNotification", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutePropagatesPushFailure(t *testing.T) {
	pusher := new(MockPusher)
	directory := new(MockDirectory)
	executor := NewExecutor(pusher, directory, nil, nil)

	ev := triggerEvent()
	contacts := []uuid.UUID{uuid.New()}

	directory.On("EmergencyContacts", mock.Anything, ev.OwnerID).Return(contacts, nil)
	pusher.On("SendCustomNotification", mock.Anything, mock.Anything, contacts).
		Return(errors.New("gateway timeout"))

	err := executor.Execute(context.Background(), domain.ActionNotifyContacts, ev)

	assert.Error(t, err)
}

func TestOpenEmergencyConversation(t *testing.T) {
	pusher := new(MockPusher)
	directory := new(MockDirectory)
	conversations := new(MockConversationCreator)
	executor := NewExecutor(pusher, directory, conversations, nil)

	ev := triggerEvent()
	staff := []uuid.UUID{uuid.New()}

	directory.On("OnCallStaff", mock.Anything).Return(staff, nil)
	conversations.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
		return c.Kind == domain.ConversationEmergency && c.IsActive
	}), staff).Return(nil)

	err := executor.Execute(context.Background(), domain.ActionOpenEmergencyRoom, ev)

	assert.NoError(t, err)
	conversations.AssertExpectations(t)
}

func TestElevatePriorityPostsSystemMessage(t *testing.T) {
	announcer := new(MockAnnouncer)
	executor := NewExecutor(new(MockPusher), new(MockDirectory), nil, announcer)

	ev := triggerEvent()
	announcer.On("SendSystemMessage", mock.Anything, ev.ConversationID, ev.OwnerID,
		mock.AnythingOfType("string"), domain.PriorityEmergency).Return(&domain.Message{}, nil)

	err := executor.Execute(context.Background(), domain.ActionElevatePriority, ev)

	assert.NoError(t, err)
	announcer.AssertExpectations(t)
}
