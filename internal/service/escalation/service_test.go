package escalation

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) CreateRule(ctx context.Context, rule *domain.EscalationRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleStore) GetActiveRules(ctx context.Context, ownerID uuid.UUID) ([]*domain.EscalationRule, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EscalationRule), args.Error(1)
}

func (m *MockRuleStore) SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	args := m.Called(ctx, ruleID, active)
	return args.Error(0)
}

type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) CreateEvent(ctx context.Context, event *domain.EscalationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.EscalationEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EscalationEvent), args.Error(1)
}

func (m *MockEventStore) AdvanceLevel(ctx context.Context, eventID uuid.UUID, level, attempts int) (bool, error) {
	args := m.Called(ctx, eventID, level, attempts)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) Resolve(ctx context.Context, eventID, resolvedBy uuid.UUID) (bool, error) {
	args := m.Called(ctx, eventID, resolvedBy)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int) error {
	args := m.Called(ctx, eventID, attempts)
	return args.Error(0)
}

func (m *MockEventStore) ListEvents(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.EscalationEvent, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EscalationEvent), args.Error(1)
}

// recordingExecutor collects the actions that fired.
type recordingExecutor struct {
	mu      sync.Mutex
	actions []domain.EscalationAction
	fail    map[domain.EscalationAction]error
}

func (e *recordingExecutor) Execute(ctx context.Context, action domain.EscalationAction, ev *domain.TriggerEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.fail[action]; ok {
		return err
	}
	e.actions = append(e.actions, action)
	return nil
}

func (e *recordingExecutor) fired() []domain.EscalationAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.EscalationAction(nil), e.actions...)
}

func emergencyRule(ownerID uuid.UUID, levels ...domain.EscalationLevel) *domain.EscalationRule {
	return &domain.EscalationRule{
		RuleID:   uuid.New(),
		OwnerID:  ownerID,
		Name:     "emergency ladder",
		Trigger:  domain.EscalationTrigger{MinPriority: domain.PriorityEmergency},
		Levels:   levels,
		IsActive: true,
	}
}

func emergencyEvent(ownerID uuid.UUID) *domain.TriggerEvent {
	return &domain.TriggerEvent{
		OwnerID:        ownerID,
		ConversationID: uuid.New(),
		Kind:           domain.ConversationDirect,
		Message: &domain.Message{
			MessageID: uuid.New(),
			Content:   "🚨 EMERGENCIA: ayuda",
			Priority:  domain.PriorityEmergency,
		},
	}
}

func fastConfig() Config {
	return Config{QueueSize: 8, Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond}
}

func TestWalkFiresLevelsInOrder(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	executor := &recordingExecutor{}
	service := NewService(rules, events, executor, fastConfig())

	ownerID := uuid.New()
	rule := emergencyRule(ownerID,
		domain.EscalationLevel{Action: domain.ActionNotifyContacts},
		domain.EscalationLevel{Action: domain.ActionBroadcastOnCall, Delay: time.Millisecond},
	)
	ev := emergencyEvent(ownerID)

	rules.On("GetActiveRules", mock.Anything, ownerID).Return([]*domain.EscalationRule{rule}, nil)
	events.On("CreateEvent", mock.Anything, mock.AnythingOfType("*domain.EscalationEvent")).Return(nil)
	events.On("GetEvent", mock.Anything, mock.Anything).Return(&domain.EscalationEvent{
		State: domain.EscalationPending,
	}, nil)
	events.On("AdvanceLevel", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	ctx := context.Background()
	service.evaluate(ctx, ev)

	assert.Equal(t, []domain.EscalationAction{
		domain.ActionNotifyContacts,
		domain.ActionBroadcastOnCall,
	}, executor.fired())
	events.AssertNumberOfCalls(t, "AdvanceLevel", 2)
}

func TestWalkHaltsOnResolution(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	executor := &recordingExecutor{}
	service := NewService(rules, events, executor, fastConfig())

	ownerID := uuid.New()
	rule := emergencyRule(ownerID,
		domain.EscalationLevel{Action: domain.ActionNotifyContacts},
		domain.EscalationLevel{Action: domain.ActionBroadcastOnCall, Delay: time.Millisecond},
	)
	ev := emergencyEvent(ownerID)

	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)
	// Resolved before the second level's delay elapses.
	events.On("GetEvent", mock.Anything, mock.Anything).Return(&domain.EscalationEvent{
		State: domain.EscalationPending,
	}, nil).Once()
	events.On("GetEvent", mock.Anything, mock.Anything).Return(&domain.EscalationEvent{
		State: domain.EscalationResolved,
	}, nil)
	events.On("AdvanceLevel", mock.Anything, mock.Anything, 1, mock.Anything).Return(true, nil)

	service.walkLevels(context.Background(), rule, &domain.EscalationEvent{EventID: uuid.New()}, ev)

	assert.Equal(t, []domain.EscalationAction{domain.ActionNotifyContacts}, executor.fired())
}

func TestExhaustedRetriesMarkFailed(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	executor := &recordingExecutor{
		fail: map[domain.EscalationAction]error{
			domain.ActionNotifyContacts: errors.New("push gateway down"),
		},
	}
	service := NewService(rules, events, executor, fastConfig())

	ownerID := uuid.New()
	rule := emergencyRule(ownerID,
		domain.EscalationLevel{Action: domain.ActionNotifyContacts},
		domain.EscalationLevel{Action: domain.ActionBroadcastOnCall},
	)
	ev := emergencyEvent(ownerID)
	event := &domain.EscalationEvent{EventID: uuid.New()}

	events.On("GetEvent", mock.Anything, event.EventID).Return(&domain.EscalationEvent{
		State: domain.EscalationPending,
	}, nil)
	events.On("MarkFailed", mock.Anything, event.EventID, 2).Return(nil)

	service.walkLevels(context.Background(), rule, event, ev)

	// The second level never fires once the first fails permanently.
	assert.Empty(t, executor.fired())
	events.AssertCalled(t, "MarkFailed", mock.Anything, event.EventID, 2)
	events.AssertNotCalled(t, "AdvanceLevel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateSkipsNonMatchingRules(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	executor := &recordingExecutor{}
	service := NewService(rules, events, executor, fastConfig())

	ownerID := uuid.New()
	rule := emergencyRule(ownerID, domain.EscalationLevel{Action: domain.ActionNotifyContacts})
	rules.On("GetActiveRules", mock.Anything, ownerID).Return([]*domain.EscalationRule{rule}, nil)

	normal := emergencyEvent(ownerID)
	normal.Message.Priority = domain.PriorityNormal

	service.evaluate(context.Background(), normal)

	assert.Empty(t, executor.fired())
	events.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything)
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	service := NewService(rules, events, &recordingExecutor{}, Config{
		QueueSize: 1, Workers: 1, MaxRetries: 1, RetryBackoff: time.Millisecond,
	})

	// No workers started: the second dispatch must not block.
	done := make(chan struct{})
	go func() {
		service.Dispatch(emergencyEvent(uuid.New()))
		service.Dispatch(emergencyEvent(uuid.New()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	service := NewService(rules, events, &recordingExecutor{}, fastConfig())

	eventID := uuid.New()
	clinicianID := uuid.New()

	events.On("Resolve", mock.Anything, eventID, clinicianID).Return(true, nil).Once()
	events.On("Resolve", mock.Anything, eventID, clinicianID).Return(false, nil)

	applied, err := service.Resolve(context.Background(), eventID, clinicianID)
	assert.NoError(t, err)
	assert.True(t, applied)

	applied, err = service.Resolve(context.Background(), eventID, clinicianID)
	assert.NoError(t, err)
	assert.False(t, applied)
}

func TestCreateRuleValidates(t *testing.T) {
	rules := new(MockRuleStore)
	events := new(MockEventStore)
	service := NewService(rules, events, &recordingExecutor{}, fastConfig())

	err := service.CreateRule(context.Background(), &domain.EscalationRule{Name: "no levels"})
	assert.Error(t, err)

	rules.On("CreateRule", mock.Anything, mock.AnythingOfType("*domain.EscalationRule")).Return(nil)
	err = service.CreateRule(context.Background(), &domain.EscalationRule{
		Name:   "ok",
		Levels: []domain.EscalationLevel{{Action: domain.ActionNotifyContacts}},
	})
	assert.NoError(t, err)
}
