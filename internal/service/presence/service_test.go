package presence

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

type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockParticipantStore) SetParticipantActive(ctx context.Context, conversationID, userID uuid.UUID, active bool, observedAt time.Time) (bool, error) {
	args := m.Called(ctx, conversationID, userID, active, observedAt)
	return args.Bool(0), args.Error(1)
}

type MockLivenessStore struct {
	mock.Mock
}

func (m *MockLivenessStore) MarkActive(ctx context.Context, conversationID, userID string, activatedAt time.Time) error {
	args := m.Called(ctx, conversationID, userID, activatedAt)
	return args.Error(0)
}

func (m *MockLivenessStore) MarkInactive(ctx context.Context, conversationID, userID string, observedActivation time.Time) (bool, error) {
	args := m.Called(ctx, conversationID, userID, observedActivation)
	return args.Bool(0), args.Error(1)
}

func (m *MockLivenessStore) Heartbeat(ctx context.Context, conversationID, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockLivenessStore) ActiveParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error) {
	args := m.Called(ctx, conversationID, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]time.Time), args.Error(1)
}

func (m *MockLivenessStore) StaleParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error) {
	args := m.Called(ctx, conversationID, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]time.Time), args.Error(1)
}

func TestActivateStampsAndMirrors(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	ctx := context.Background()
	conversationID := uuid.New()
	userID := uuid.New()

	participants.On("GetParticipant", ctx, conversationID, userID).
		Return(&domain.Participant{UserID: userID}, nil)
	participants.On("SetParticipantActive", ctx, conversationID, userID, true, mock.AnythingOfType("time.Time")).
		Return(true, nil)
	liveness.On("MarkActive", ctx, conversationID.String(), userID.String(), mock.AnythingOfType("time.Time")).
		Return(nil)

	activatedAt, err := service.Activate(ctx, conversationID, userID)

	assert.NoError(t, err)
	assert.False(t, activatedAt.IsZero())
	participants.AssertExpectations(t)
	liveness.AssertExpectations(t)
}

func TestActivateRejectsNonParticipant(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	ctx := context.Background()
	conversationID := uuid.New()
	userID := uuid.New()

	participants.On("GetParticipant", ctx, conversationID, userID).
		Return(nil, apperrors.NotFoundError("Participant"))

	_, err := service.Activate(ctx, conversationID, userID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAParticipant))
	participants.AssertNotCalled(t, "SetParticipantActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStaleDeactivationIsNoOp(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	ctx := context.Background()
	conversationID := uuid.New()
	userID := uuid.New()
	observed := time.Now().Add(-time.Hour)

	// The database CAS refuses the write because a newer activation
	// exists.
	participants.On("SetParticipantActive", ctx, conversationID, userID, false, observed).
		Return(false, nil)

	applied, err := service.Deactivate(ctx, conversationID, userID, observed)

	assert.NoError(t, err)
	assert.False(t, applied)
	liveness.AssertNotCalled(t, "MarkInactive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeactivateApplies(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	ctx := context.Background()
	conversationID := uuid.New()
	userID := uuid.New()
	observed := time.Now()

	participants.On("SetParticipantActive", ctx, conversationID, userID, false, observed).
		Return(true, nil)
	liveness.On("MarkInactive", ctx, conversationID.String(), userID.String(), observed).
		Return(true, nil)

	applied, err := service.Deactivate(ctx, conversationID, userID, observed)

	assert.NoError(t, err)
	assert.True(t, applied)
	liveness.AssertExpectations(t)
}

func TestSweepStaleSkipsReactivated(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	ctx := context.Background()
	conversationID := uuid.New()
	lapsedID := uuid.New()
	reactivatedID := uuid.New()

	oldActivation := time.Now().Add(-10 * time.Minute)
	liveness.On("StaleParticipants", ctx, conversationID.String(), time.Minute).
		Return(map[string]time.Time{
			lapsedID.String():      oldActivation,
			reactivatedID.String(): oldActivation,
		}, nil)

	// One sweep lands, the other loses the CAS to a fresh activation.
	participants.On("SetParticipantActive", ctx, conversationID, lapsedID, false, oldActivation).
		Return(true, nil)
	participants.On("SetParticipantActive", ctx, conversationID, reactivatedID, false, oldActivation).
		Return(false, nil)
	liveness.On("MarkInactive", ctx, conversationID.String(), lapsedID.String(), oldActivation).
		Return(true, nil)

	swept, err := service.SweepStale(ctx, conversationID)

	assert.NoError(t, err)
	assert.Equal(t, 1, swept)
}

func TestActivateRefusesLeftMember(t *testing.T) {
	participants := new(MockParticipantStore)
	liveness := new(MockLivenessStore)
	service := NewService(participants, liveness, time.Minute)

	conversationID := uuid.New()
	userID := uuid.New()
	leftAt := time.Now().Add(-time.Hour)

	participants.On("GetParticipant", mock.Anything, conversationID, userID).Return(&domain.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		LeftAt:         &leftAt,
	}, nil)

	_, err := service.Activate(context.Background(), conversationID, userID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAParticipant))
	participants.AssertNotCalled(t, "SetParticipantActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	liveness.AssertNotCalled(t, "MarkActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
