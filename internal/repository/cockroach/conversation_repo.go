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

// ConversationRepository handles conversation and participant operations
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a conversation and its initial participant set in one
// transaction. The creator is always added as admin.
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation, participantIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	metadata, err := json.Marshal(conversation.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO conversations (
			conversation_id, kind, created_by, is_encrypted, key_ref,
			retention_days, is_active, legal_hold, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = tx.Exec(ctx, query,
		conversation.ConversationID,
		conversation.Kind,
		conversation.CreatedBy,
		conversation.IsEncrypted,
		conversation.KeyRef,
		conversation.RetentionDays,
		conversation.IsActive,
		conversation.LegalHold,
		metadata,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	now := time.Now().UTC()
	for _, userID := range participantIDs {
		role := domain.RoleParticipant
		if userID == conversation.CreatedBy {
			role = domain.RoleAdmin
		}
		if err := addParticipantTx(ctx, tx, conversation.ConversationID, userID, role, now); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// addParticipantTx upserts a participant row. A returning user is
// reactivated in place, never duplicated.
func addParticipantTx(ctx context.Context, tx pgx.Tx, conversationID, userID uuid.UUID, role domain.ParticipantRole, now time.Time) error {
	query := `
		INSERT INTO conversation_participants (
			conversation_id, user_id, role, joined_at, left_at, is_active,
			activated_at, notify_push, notify_email, notify_sms
		) VALUES ($1, $2, $3, $4, NULL, true, $4, true, true, false)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			is_active = true,
			left_at = NULL,
			activated_at = $4
	`

	if _, err := tx.Exec(ctx, query, conversationID, userID, role, now); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// AddParticipant adds or reactivates a participant outside a surrounding transaction.
func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := addParticipantTx(ctx, tx, conversationID, userID, role, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, kind, created_by, is_encrypted, key_ref,
		       retention_days, is_active, legal_hold, metadata, created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conversation := &domain.Conversation{}
	var metadata []byte
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&conversation.Kind,
		&conversation.CreatedBy,
		&conversation.IsEncrypted,
		&conversation.KeyRef,
		&conversation.RetentionDays,
		&conversation.IsActive,
		&conversation.LegalHold,
		&metadata,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conversation.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return conversation, nil
}

// GetParticipant retrieves a single participant row
func (r *ConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, left_at, is_active,
		       activated_at, notify_push, notify_email, notify_sms
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`

	p := &domain.Participant{}
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(
		&p.ConversationID,
		&p.UserID,
		&p.Role,
		&p.JoinedAt,
		&p.LeftAt,
		&p.IsActive,
		&p.ActivatedAt,
		&p.NotifyPrefs.Push,
		&p.NotifyPrefs.Email,
		&p.NotifyPrefs.SMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Participant")
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

// GetParticipants retrieves all participant rows of a conversation
func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]*domain.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, left_at, is_active,
		       activated_at, notify_push, notify_email, notify_sms
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{}
		err := rows.Scan(
			&p.ConversationID,
			&p.UserID,
			&p.Role,
			&p.JoinedAt,
			&p.LeftAt,
			&p.IsActive,
			&p.ActivatedAt,
			&p.NotifyPrefs.Push,
			&p.NotifyPrefs.Email,
			&p.NotifyPrefs.SMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// SetParticipantActive flips the participant's liveness flag with
// compare-and-set semantics: the update only applies when the stored
// activation timestamp is not newer than the caller's observation, so a
// stale deactivation from a disconnected device is a no-op. Liveness
// never touches left_at; going offline does not leave the conversation.
// Returns true when the row changed.
func (r *ConversationRepository) SetParticipantActive(ctx context.Context, conversationID, userID uuid.UUID, active bool, observedAt time.Time) (bool, error) {
	var query string
	if active {
		query = `
			UPDATE conversation_participants
			SET is_active = true, activated_at = $3
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL AND activated_at <= $3
		`
	} else {
		query = `
			UPDATE conversation_participants
			SET is_active = false
			WHERE conversation_id = $1 AND user_id = $2 AND activated_at <= $3
		`
	}

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, userID, observedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update participant activity: %w", err)
	}

	return cmdTag.RowsAffected() > 0, nil
}

// UpdateNotifyPrefs stores the participant's notification preferences
func (r *ConversationRepository) UpdateNotifyPrefs(ctx context.Context, conversationID, userID uuid.UUID, prefs domain.NotifyPrefs) error {
	query := `
		UPDATE conversation_participants
		SET notify_push = $3, notify_email = $4, notify_sms = $5
		WHERE conversation_id = $1 AND user_id = $2
	`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, userID, prefs.Push, prefs.Email, prefs.SMS)
	if err != nil {
		return fmt.Errorf("failed to update notify prefs: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Participant")
	}

	return nil
}

// Deactivate soft-deletes a conversation. Messages stay in the log;
// conversations under legal hold are refused.
func (r *ConversationRepository) Deactivate(ctx context.Context, conversationID uuid.UUID) error {
	query := `
		UPDATE conversations
		SET is_active = false, updated_at = $2
		WHERE conversation_id = $1 AND legal_hold = false
	`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ConflictError("Conversation is missing or under legal hold")
	}

	return nil
}

// ListForRetention returns active conversations whose retention window
// can produce expired messages, for the background sweep.
func (r *ConversationRepository) ListForRetention(ctx context.Context, limit int) ([]*domain.Conversation, error) {
	query := `
		SELECT conversation_id, kind, created_by, is_encrypted, key_ref,
		       retention_days, is_active, legal_hold, metadata, created_at, updated_at
		FROM conversations
		WHERE retention_days > 0 AND legal_hold = false
		ORDER BY updated_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for retention: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		var metadata []byte
		err := rows.Scan(
			&c.ConversationID, &c.Kind, &c.CreatedBy, &c.IsEncrypted, &c.KeyRef,
			&c.RetentionDays, &c.IsActive, &c.LegalHold, &metadata, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}
