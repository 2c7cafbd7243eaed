package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
)

// RuleStore provides the active escalation rules per owner.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *domain.EscalationRule) error
	GetActiveRules(ctx context.Context, ownerID uuid.UUID) ([]*domain.EscalationRule, error)
	SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error
}

// EventStore persists escalation events and their level walk.
type EventStore interface {
	CreateEvent(ctx context.Context, event *domain.EscalationEvent) error
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.EscalationEvent, error)
	AdvanceLevel(ctx context.Context, eventID uuid.UUID, level, attempts int) (bool, error)
	Resolve(ctx context.Context, eventID, resolvedBy uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int) error
	ListEvents(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.EscalationEvent, error)
}

// ActionExecutor carries out one escalation level's side effect:
// notifying emergency contacts, broadcasting to on-call staff, and so
// on. Implementations are retried on failure.
type ActionExecutor interface {
	Execute(ctx context.Context, action domain.EscalationAction, event *domain.TriggerEvent) error
}

// Config tunes the engine.
type Config struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Service is the escalation engine. Dispatch is non-blocking: events
// go onto a bounded queue drained by workers that match rules and walk
// their timed levels. Losing the race with a resolution halts the
// walk; an action that exhausts its retries marks the event failed so
// it stays auditable.
type Service struct {
	rules    RuleStore
	events   EventStore
	executor ActionExecutor
	cfg      Config

	queue chan *domain.TriggerEvent
	wg    sync.WaitGroup
}

// NewService creates a new escalation engine.
func NewService(rules RuleStore, events EventStore, executor ActionExecutor, cfg Config) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Service{
		rules:    rules,
		events:   events,
		executor: executor,
		cfg:      cfg,
		queue:    make(chan *domain.TriggerEvent, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers drain until ctx is
// cancelled; Wait blocks until they exit.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-s.queue:
					metrics.EscalationQueueDepth.Set(float64(len(s.queue)))
					s.evaluate(ctx, ev)
				}
			}
		}()
	}
}

// Wait blocks until all workers have stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Dispatch enqueues an event for evaluation without blocking the
// caller. A full queue drops the event with a log line; message
// delivery must never stall on escalation.
func (s *Service) Dispatch(ev *domain.TriggerEvent) {
	select {
	case s.queue <- ev:
		metrics.EscalationQueueDepth.Set(float64(len(s.queue)))
	default:
		logger.Log.Error("escalation queue full, dropping event",
			zap.String("conversation_id", ev.ConversationID.String()))
	}
}

// evaluate matches one event against the owner's rules and starts a
// level walk per match.
func (s *Service) evaluate(ctx context.Context, ev *domain.TriggerEvent) {
	source := "message"
	if ev.Session != nil {
		source = "session"
	}
	metrics.EscalationEvaluatedTotal.WithLabelValues(source).Inc()

	rules, err := s.rules.GetActiveRules(ctx, ev.OwnerID)
	if err != nil {
		logger.Log.Error("failed to load escalation rules",
			zap.String("owner_id", ev.OwnerID.String()), zap.Error(err))
		return
	}

	for _, rule := range rules {
		if !rule.Matches(ev) {
			continue
		}
		metrics.EscalationMatchedTotal.Inc()

		event := &domain.EscalationEvent{
			EventID:        uuid.New(),
			RuleID:         rule.RuleID,
			ConversationID: ev.ConversationID,
			State:          domain.EscalationPending,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if ev.Message != nil {
			event.MessageID = &ev.Message.MessageID
		}
		if ev.Session != nil {
			event.SessionID = &ev.Session.SessionID
		}

		if err := s.events.CreateEvent(ctx, event); err != nil {
			logger.Log.Error("failed to create escalation event",
				zap.String("rule_id", rule.RuleID.String()), zap.Error(err))
			continue
		}

		logger.Log.Warn("escalation rule matched",
			zap.String("rule", rule.Name),
			zap.String("event_id", event.EventID.String()),
			zap.String("conversation_id", ev.ConversationID.String()))

		s.walkLevels(ctx, rule, event, ev)
	}
}

// walkLevels executes the rule's levels in order, waiting each level's
// delay and stopping as soon as the event is resolved.
func (s *Service) walkLevels(ctx context.Context, rule *domain.EscalationRule, event *domain.EscalationEvent, ev *domain.TriggerEvent) {
	attempts := 0
	for i, level := range rule.Levels {
		if !s.sleep(ctx, level.Delay) {
			return
		}
		if s.resolved(ctx, event.EventID) {
			return
		}

		ok, err := s.fireAction(ctx, level.Action, ev, &attempts)
		if err != nil {
			// Retries exhausted: record the failure and stop the walk.
			metrics.EscalationFailedTotal.Inc()
			if markErr := s.events.MarkFailed(ctx, event.EventID, attempts); markErr != nil {
				logger.Log.Error("failed to mark escalation failed", zap.Error(markErr))
			}
			logger.Log.Error("escalation action failed permanently",
				zap.String("event_id", event.EventID.String()),
				zap.String("action", string(level.Action)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return
		}
		if !ok {
			return
		}

		applied, err := s.events.AdvanceLevel(ctx, event.EventID, i+1, attempts)
		if err != nil {
			logger.Log.Error("failed to advance escalation level", zap.Error(err))
			return
		}
		if !applied {
			// The event was resolved while the action ran.
			return
		}
	}
}

// fireAction executes one action with bounded retries and backoff.
// Returns (false, nil) when the context ended mid-retry.
func (s *Service) fireAction(ctx context.Context, action domain.EscalationAction, ev *domain.TriggerEvent, attempts *int) (bool, error) {
	var lastErr error
	for try := 0; try < s.cfg.MaxRetries; try++ {
		*attempts++
		err := s.executor.Execute(ctx, action, ev)
		if err == nil {
			metrics.EscalationLevelFiredTotal.WithLabelValues(string(action), "ok").Inc()
			return true, nil
		}
		lastErr = err
		metrics.EscalationLevelFiredTotal.WithLabelValues(string(action), "error").Inc()
		logger.Log.Warn("escalation action attempt failed",
			zap.String("action", string(action)),
			zap.Int("attempt", *attempts),
			zap.Error(err))

		backoff := s.cfg.RetryBackoff * time.Duration(1<<try)
		if !s.sleep(ctx, backoff) {
			return false, nil
		}
	}
	return false, apperrors.EscalationActionFailedError(lastErr)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Service) resolved(ctx context.Context, eventID uuid.UUID) bool {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		logger.Log.Warn("failed to read escalation event state", zap.Error(err))
		return false
	}
	return event.State != domain.EscalationPending
}

// Resolve acknowledges an escalation, halting its level walk. Repeat
// resolves are no-ops.
func (s *Service) Resolve(ctx context.Context, eventID, resolvedBy uuid.UUID) (bool, error) {
	applied, err := s.events.Resolve(ctx, eventID, resolvedBy)
	if err != nil {
		return false, err
	}
	if applied {
		metrics.EscalationResolvedTotal.Inc()
		logger.Log.Info("escalation resolved",
			zap.String("event_id", eventID.String()),
			zap.String("resolved_by", resolvedBy.String()))
	}
	return applied, nil
}

// CreateRule registers a new escalation rule.
func (s *Service) CreateRule(ctx context.Context, rule *domain.EscalationRule) error {
	if rule.Name == "" {
		return apperrors.MissingFieldError("name")
	}
	if len(rule.Levels) == 0 {
		return apperrors.InvalidInputError("a rule needs at least one level")
	}
	for _, level := range rule.Levels {
		if level.Action == "" {
			return apperrors.MissingFieldError("action")
		}
	}

	if rule.RuleID == uuid.Nil {
		rule.RuleID = uuid.New()
	}
	rule.IsActive = true
	rule.CreatedAt = time.Now().UTC()

	return s.rules.CreateRule(ctx, rule)
}

// SetRuleActive toggles a rule.
func (s *Service) SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	return s.rules.SetRuleActive(ctx, ruleID, active)
}

// ListEvents lists a conversation's escalation events, newest first.
func (s *Service) ListEvents(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.EscalationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.events.ListEvents(ctx, conversationID, limit, offset)
}
