package session

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
	"mediconnect-backend/internal/repository/cockroach"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, session *domain.CallSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionStore) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) Join(ctx context.Context, sessionID, userID uuid.UUID) (*cockroach.JoinResult, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cockroach.JoinResult), args.Error(1)
}

func (m *MockSessionStore) Leave(ctx context.Context, sessionID, userID uuid.UUID) (*cockroach.LeaveResult, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cockroach.LeaveResult), args.Error(1)
}

func (m *MockSessionStore) TransitionStatus(ctx context.Context, sessionID uuid.UUID, expected []domain.SessionStatus, next domain.SessionStatus) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID, expected, next)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) SetConsent(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID, recording, transcript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) SetCaptureState(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool, statusGuard []domain.SessionStatus) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID, recording, transcript, statusGuard)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockSessionStore) SetArtifactURLs(ctx context.Context, sessionID uuid.UUID, recordingURL, transcriptURL *string) error {
	args := m.Called(ctx, sessionID, recordingURL, transcriptURL)
	return args.Error(0)
}

func (m *MockSessionStore) GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SessionParticipant), args.Error(1)
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

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ev *domain.TriggerEvent) {
	m.Called(ev)
}

func testSession(status domain.SessionStatus) *domain.CallSession {
	return &domain.CallSession{
		SessionID:      uuid.New(),
		AppointmentID:  uuid.New(),
		ConversationID: uuid.New(),
		DoctorID:       uuid.New(),
		PatientID:      uuid.New(),
		Status:         status,
	}
}

func TestCreateRejectsInvalidParticipantSet(t *testing.T) {
	store := new(MockSessionStore)
	service := NewService(store, nil, nil)

	sameID := uuid.New()
	_, err := service.Create(context.Background(), &CreateInput{
		AppointmentID: uuid.New(),
		DoctorID:      sameID,
		PatientID:     sameID,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidParticipantSet))
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateStartsWaitingWithToken(t *testing.T) {
	store := new(MockSessionStore)
	service := NewService(store, nil, nil)

	store.On("Create", mock.Anything, mock.AnythingOfType("*domain.CallSession")).Return(nil)

	session, err := service.Create(context.Background(), &CreateInput{
		AppointmentID: uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     uuid.New(),
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionWaiting, session.Status)
	assert.Len(t, session.SessionToken, 48)
}

func TestJoinFirstParticipantConnects(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	dispatcher := new(MockDispatcher)
	service := NewService(store, announcer, dispatcher)

	ctx := context.Background()
	waiting := testSession(domain.SessionWaiting)
	connecting := *waiting
	connecting.Status = domain.SessionConnecting

	store.On("GetByID", ctx, waiting.SessionID).Return(waiting, nil)
	store.On("Join", ctx, waiting.SessionID, waiting.DoctorID).
		Return(&cockroach.JoinResult{Session: &connecting, From: domain.SessionWaiting}, nil)
	announcer.On("SendSystemMessage", ctx, waiting.ConversationID, waiting.DoctorID,
		"consultation connecting", domain.PriorityNormal).Return(&domain.Message{}, nil)
	dispatcher.On("Dispatch", mock.AnythingOfType("*domain.TriggerEvent")).Return()

	session, err := service.Join(ctx, waiting.SessionID, waiting.DoctorID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionConnecting, session.Status)
	announcer.AssertExpectations(t)
}

func TestJoinSecondParticipantActivates(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	service := NewService(store, announcer, nil)

	ctx := context.Background()
	connecting := testSession(domain.SessionConnecting)
	active := *connecting
	active.Status = domain.SessionActive

	store.On("GetByID", ctx, connecting.SessionID).Return(connecting, nil)
	store.On("Join", ctx, connecting.SessionID, connecting.PatientID).
		Return(&cockroach.JoinResult{Session: &active, From: domain.SessionConnecting}, nil)
	announcer.On("SendSystemMessage", ctx, connecting.ConversationID, connecting.PatientID,
		"consultation active", domain.PriorityNormal).Return(&domain.Message{}, nil)

	session, err := service.Join(ctx, connecting.SessionID, connecting.PatientID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.Status)
}

func TestJoinRejectsOutsider(t *testing.T) {
	store := new(MockSessionStore)
	service := NewService(store, nil, nil)

	ctx := context.Background()
	session := testSession(domain.SessionWaiting)
	outsiderID := uuid.New()

	store.On("GetByID", ctx, session.SessionID).Return(session, nil)

	_, err := service.Join(ctx, session.SessionID, outsiderID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAParticipant))
	store.AssertNotCalled(t, "Join", mock.Anything, mock.Anything, mock.Anything)
}

func TestLeaveSolitaryReturnsToWaiting(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	service := NewService(store, announcer, nil)

	ctx := context.Background()
	connecting := testSession(domain.SessionConnecting)
	waiting := *connecting
	waiting.Status = domain.SessionWaiting

	store.On("GetByID", ctx, connecting.SessionID).Return(connecting, nil)
	store.On("Leave", ctx, connecting.SessionID, connecting.DoctorID).
		Return(&cockroach.LeaveResult{Session: &waiting, From: domain.SessionConnecting}, nil)
	announcer.On("SendSystemMessage", ctx, connecting.ConversationID, connecting.DoctorID,
		"consultation waiting", domain.PriorityNormal).Return(&domain.Message{}, nil)

	session, err := service.Leave(ctx, connecting.SessionID, connecting.DoctorID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionWaiting, session.Status)
}

func TestLeaveLastParticipantEnds(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	service := NewService(store, announcer, nil)

	ctx := context.Background()
	active := testSession(domain.SessionActive)
	now := time.Now().UTC()
	ended := *active
	ended.Status = domain.SessionEnded
	ended.EndedAt = &now
	ended.DurationMinutes = 17

	store.On("GetByID", ctx, active.SessionID).Return(active, nil)
	store.On("Leave", ctx, active.SessionID, active.PatientID).
		Return(&cockroach.LeaveResult{Session: &ended, From: domain.SessionActive}, nil)
	announcer.On("SendSystemMessage", ctx, active.ConversationID, active.PatientID,
		"consultation ended", domain.PriorityNormal).Return(&domain.Message{}, nil)

	session, err := service.Leave(ctx, active.SessionID, active.PatientID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, session.Status)
	assert.Equal(t, 17, session.DurationMinutes)
}

func TestEscalateAnnouncesEmergency(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	dispatcher := new(MockDispatcher)
	service := NewService(store, announcer, dispatcher)

	ctx := context.Background()
	active := testSession(domain.SessionActive)
	emergency := *active
	emergency.Status = domain.SessionEmergency
	emergency.EmergencyEscalated = true

	store.On("GetByID", ctx, active.SessionID).Return(active, nil)
	store.On("TransitionStatus", ctx, active.SessionID,
		[]domain.SessionStatus{domain.SessionConnecting, domain.SessionActive},
		domain.SessionEmergency).Return(&emergency, nil)
	announcer.On("SendSystemMessage", ctx, active.ConversationID, active.DoctorID,
		"consultation emergency", domain.PriorityEmergency).Return(&domain.Message{}, nil)
	dispatcher.On("Dispatch", mock.MatchedBy(func(ev *domain.TriggerEvent) bool {
		return ev.Session != nil && ev.Session.To == domain.SessionEmergency
	})).Return()

	session, err := service.EscalateToEmergency(ctx, active.SessionID, active.DoctorID, "patient unresponsive")

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionEmergency, session.Status)
	assert.True(t, session.EmergencyEscalated)
	dispatcher.AssertExpectations(t)
}

func TestEscalateRejectedFromWaiting(t *testing.T) {
	store := new(MockSessionStore)
	service := NewService(store, nil, nil)

	ctx := context.Background()
	waiting := testSession(domain.SessionWaiting)

	store.On("GetByID", ctx, waiting.SessionID).Return(waiting, nil)
	store.On("TransitionStatus", ctx, waiting.SessionID, mock.Anything, domain.SessionEmergency).
		Return(nil, apperrors.InvalidTransitionError(string(domain.SessionWaiting), string(domain.SessionEmergency)))

	_, err := service.EscalateToEmergency(ctx, waiting.SessionID, waiting.DoctorID, "")

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestStartRecordingRequiresConsent(t *testing.T) {
	store := new(MockSessionStore)
	service := NewService(store, nil, nil)

	ctx := context.Background()
	active := testSession(domain.SessionActive)
	active.RecordingConsent = true // transcript consent still missing

	store.On("GetByID", ctx, active.SessionID).Return(active, nil)

	_, err := service.StartRecording(ctx, active.SessionID, active.DoctorID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConsentRequired))
	store.AssertNotCalled(t, "SetCaptureState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartRecordingWithConsent(t *testing.T) {
	store := new(MockSessionStore)
	announcer := new(MockAnnouncer)
	service := NewService(store, announcer, nil)

	ctx := context.Background()
	active := testSession(domain.SessionActive)
	active.RecordingConsent = true
	active.TranscriptConsent = true
	recording := *active
	recording.RecordingActive = true

	store.On("GetByID", ctx, active.SessionID).Return(active, nil)
	store.On("SetCaptureState", ctx, active.SessionID, mock.Anything, (*bool)(nil),
		[]domain.SessionStatus{domain.SessionActive}).Return(&recording, nil)
	announcer.On("SendSystemMessage", ctx, active.ConversationID, active.DoctorID,
		"recording started", domain.PriorityNormal).Return(&domain.Message{}, nil)

	session, err := service.StartRecording(ctx, active.SessionID, active.DoctorID)

	assert.NoError(t, err)
	assert.True(t, session.RecordingActive)
}
