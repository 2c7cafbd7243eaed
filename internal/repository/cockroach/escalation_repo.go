package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// EscalationRepository handles escalation rules and events
type EscalationRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationRepository creates a new escalation repository
func NewEscalationRepository(pool *pgxpool.Pool) *EscalationRepository {
	return &EscalationRepository{pool: pool}
}

// CreateRule inserts an escalation rule. Trigger and levels are stored
// as JSONB.
func (r *EscalationRepository) CreateRule(ctx context.Context, rule *domain.EscalationRule) error {
	trigger, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	levels, err := json.Marshal(rule.Levels)
	if err != nil {
		return fmt.Errorf("failed to marshal levels: %w", err)
	}

	query := `
		INSERT INTO escalation_rules (rule_id, owner_id, name, trigger, levels, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.pool.Exec(ctx, query,
		rule.RuleID, rule.OwnerID, rule.Name, trigger, levels, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escalation rule: %w", err)
	}

	return nil
}

// GetActiveRules lists all active rules for an owner
func (r *EscalationRepository) GetActiveRules(ctx context.Context, ownerID uuid.UUID) ([]*domain.EscalationRule, error) {
	query := `
		SELECT rule_id, owner_id, name, trigger, levels, is_active, created_at
		FROM escalation_rules
		WHERE owner_id = $1 AND is_active = true
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.EscalationRule
	for rows.Next() {
		rule := &domain.EscalationRule{}
		var trigger, levels []byte
		if err := rows.Scan(&rule.RuleID, &rule.OwnerID, &rule.Name, &trigger, &levels, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation rule: %w", err)
		}
		if err := json.Unmarshal(trigger, &rule.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
		if err := json.Unmarshal(levels, &rule.Levels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal levels: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// SetRuleActive toggles a rule
func (r *EscalationRepository) SetRuleActive(ctx context.Context, ruleID uuid.UUID, active bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE escalation_rules SET is_active = $2 WHERE rule_id = $1`, ruleID, active)
	if err != nil {
		return fmt.Errorf("failed to update escalation rule: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Escalation rule")
	}
	return nil
}

// CreateEvent records a matched rule starting its level walk
func (r *EscalationRepository) CreateEvent(ctx context.Context, event *domain.EscalationEvent) error {
	query := `
		INSERT INTO escalation_events (
			event_id, rule_id, conversation_id, message_id, session_id,
			level_reached, state, attempts, resolved_by, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		event.EventID, event.RuleID, event.ConversationID, event.MessageID, event.SessionID,
		event.LevelReached, event.State, event.Attempts, event.ResolvedBy, event.ResolvedAt,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation event: %w", err)
	}

	return nil
}

// GetEvent retrieves one escalation event
func (r *EscalationRepository) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.EscalationEvent, error) {
	query := `
		SELECT event_id, rule_id, conversation_id, message_id, session_id,
		       level_reached, state, attempts, resolved_by, resolved_at, created_at, updated_at
		FROM escalation_events
		WHERE event_id = $1
	`

	e := &domain.EscalationEvent{}
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&e.EventID, &e.RuleID, &e.ConversationID, &e.MessageID, &e.SessionID,
		&e.LevelReached, &e.State, &e.Attempts, &e.ResolvedBy, &e.ResolvedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Escalation event")
		}
		return nil, fmt.Errorf("failed to get escalation event: %w", err)
	}

	return e, nil
}

// AdvanceLevel records progress of the level walk; only applies while
// the event is still pending so resolution always wins the race.
func (r *EscalationRepository) AdvanceLevel(ctx context.Context, eventID uuid.UUID, level, attempts int) (bool, error) {
	query := `
		UPDATE escalation_events
		SET level_reached = $2, attempts = $3, updated_at = $4
		WHERE event_id = $1 AND state = $5
	`

	cmdTag, err := r.pool.Exec(ctx, query, eventID, level, attempts, time.Now().UTC(), domain.EscalationPending)
	if err != nil {
		return false, fmt.Errorf("failed to advance escalation level: %w", err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// Resolve marks the event resolved with a CAS guard: only a pending
// event can be resolved, repeat resolves are no-ops.
func (r *EscalationRepository) Resolve(ctx context.Context, eventID, resolvedBy uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE escalation_events
		SET state = $2, resolved_by = $3, resolved_at = $4, updated_at = $4
		WHERE event_id = $1 AND state = $5
	`

	cmdTag, err := r.pool.Exec(ctx, query, eventID, domain.EscalationResolved, resolvedBy, now, domain.EscalationPending)
	if err != nil {
		return false, fmt.Errorf("failed to resolve escalation event: %w", err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// MarkFailed records an event whose action retries were exhausted, so
// it stays auditable for manual follow-up.
func (r *EscalationRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int) error {
	query := `
		UPDATE escalation_events
		SET state = $2, attempts = $3, updated_at = $4
		WHERE event_id = $1 AND state = $5
	`

	_, err := r.pool.Exec(ctx, query, eventID, domain.EscalationFailed, attempts, time.Now().UTC(), domain.EscalationPending)
	if err != nil {
		return fmt.Errorf("failed to mark escalation failed: %w", err)
	}

	return nil
}

// ListEvents lists escalation events for a conversation, newest first
func (r *EscalationRepository) ListEvents(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.EscalationEvent, error) {
	query := `
		SELECT event_id, rule_id, conversation_id, message_id, session_id,
		       level_reached, state, attempts, resolved_by, resolved_at, created_at, updated_at
		FROM escalation_events
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation events: %w", err)
	}
	defer rows.Close()

	var events []*domain.EscalationEvent
	for rows.Next() {
		e := &domain.EscalationEvent{}
		err := rows.Scan(
			&e.EventID, &e.RuleID, &e.ConversationID, &e.MessageID, &e.SessionID,
			&e.LevelReached, &e.State, &e.Attempts, &e.ResolvedBy, &e.ResolvedAt,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
