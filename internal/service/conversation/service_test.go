package conversation

import (
	"context"
	"os"
	"testing"

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

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error {
	args := m.Called(ctx, conversation, participantIDs)
	return args.Error(0)
}

func (m *MockStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockStore) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error {
	args := m.Called(ctx, conversationID, userID, role)
	return args.Error(0)
}

func (m *MockStore) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockStore) UpdateNotifyPrefs(ctx context.Context, conversationID, userID uuid.UUID, prefs domain.NotifyPrefs) error {
	args := m.Called(ctx, conversationID, userID, prefs)
	return args.Error(0)
}

func (m *MockStore) Deactivate(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MockTemplateStore struct {
	mock.Mock
}

func (m *MockTemplateStore) Create(ctx context.Context, t *domain.MessageTemplate) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTemplateStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error) {
	args := m.Called(ctx, ownerID, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MessageTemplate), args.Error(1)
}

func (m *MockTemplateStore) Deactivate(ctx context.Context, templateID, ownerID uuid.UUID) error {
	args := m.Called(ctx, templateID, ownerID)
	return args.Error(0)
}

func TestCreateDirectConversation(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	doctorID := uuid.New()
	patientID := uuid.New()

	store.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
		return c.Kind == domain.ConversationDirect && c.IsActive && c.RetentionDays == defaultRetentionDays
	}), []uuid.UUID{doctorID, patientID}).Return(nil)

	conversation, err := service.Create(context.Background(), doctorID, &domain.ConversationCreate{
		Kind:           domain.ConversationDirect,
		ParticipantIDs: []uuid.UUID{patientID},
	})

	assert.NoError(t, err)
	assert.Equal(t, doctorID, conversation.CreatedBy)
	store.AssertExpectations(t)
}

func TestCreateDirectRequiresTwoParticipants(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	creatorID := uuid.New()

	_, err := service.Create(context.Background(), creatorID, &domain.ConversationCreate{
		Kind:           domain.ConversationDirect,
		ParticipantIDs: []uuid.UUID{uuid.New(), uuid.New()},
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidParticipantSet))

	// Duplicated creator collapses to a single participant.
	_, err = service.Create(context.Background(), creatorID, &domain.ConversationCreate{
		Kind:           domain.ConversationDirect,
		ParticipantIDs: []uuid.UUID{creatorID},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidParticipantSet))
}

func TestCreateEncryptedMintsKeyRef(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	store.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	conversation, err := service.Create(context.Background(), uuid.New(), &domain.ConversationCreate{
		Kind:           domain.ConversationGroup,
		IsEncrypted:    true,
		ParticipantIDs: []uuid.UUID{uuid.New()},
	})

	assert.NoError(t, err)
	assert.NotNil(t, conversation.KeyRef)
}

func TestCreateRejectsEmptyParticipantSet(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	creatorID := uuid.New()

	for _, kind := range []domain.ConversationKind{
		domain.ConversationDirect,
		domain.ConversationGroup,
		domain.ConversationEmergency,
	} {
		_, err := service.Create(context.Background(), creatorID, &domain.ConversationCreate{Kind: kind})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidParticipantSet), string(kind))
	}
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)

	// A broadcast may open with just its creator on the roster.
	store.On("Create", mock.Anything, mock.Anything, []uuid.UUID{creatorID}).Return(nil)
	_, err := service.Create(context.Background(), creatorID, &domain.ConversationCreate{
		Kind: domain.ConversationBroadcast,
	})
	assert.NoError(t, err)
}

func TestAddParticipantRequiresModerator(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	ctx := context.Background()
	conversationID := uuid.New()
	requesterID := uuid.New()
	newUserID := uuid.New()

	store.On("GetParticipant", ctx, conversationID, requesterID).Return(&domain.Participant{
		UserID: requesterID,
		Role:   domain.RoleParticipant,
	}, nil)

	err := service.AddParticipant(ctx, conversationID, requesterID, newUserID, domain.RoleParticipant)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	store.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeactivateAdminOnly(t *testing.T) {
	store := new(MockStore)
	service := NewService(store, nil)

	ctx := context.Background()
	conversationID := uuid.New()
	adminID := uuid.New()

	store.On("GetParticipant", ctx, conversationID, adminID).Return(&domain.Participant{
		UserID: adminID,
		Role:   domain.RoleAdmin,
	}, nil)
	store.On("Deactivate", ctx, conversationID).Return(nil)

	assert.NoError(t, service.Deactivate(ctx, conversationID, adminID))
}

func TestCreateTemplateValidates(t *testing.T) {
	templates := new(MockTemplateStore)
	service := NewService(new(MockStore), templates)

	ownerID := uuid.New()

	_, err := service.CreateTemplate(context.Background(), ownerID, "", "body", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingField))

	templates.On("Create", mock.Anything, mock.AnythingOfType("*domain.MessageTemplate")).Return(nil)
	template, err := service.CreateTemplate(context.Background(), ownerID, "greeting", "Buenos dias", "intro")
	assert.NoError(t, err)
	assert.True(t, template.IsActive)
}
