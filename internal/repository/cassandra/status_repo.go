package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"mediconnect-backend/internal/domain"
)

// StatusRepository handles per-recipient delivery status rows.
// One row per (message, recipient); the monotonic transition guard
// lives in the router service, this repository just reads and writes.
type StatusRepository struct {
	session *gocql.Session
}

// NewStatusRepository creates a new StatusRepository
func NewStatusRepository(session *gocql.Session) *StatusRepository {
	return &StatusRepository{session: session}
}

// Get retrieves the current status for a (message, recipient) pair
func (r *StatusRepository) Get(messageID, recipientID uuid.UUID) (*domain.MessageStatus, error) {
	query := `
		SELECT message_id, conversation_id, recipient_id, status, updated_at
		FROM message_status
		WHERE message_id = ? AND recipient_id = ?
	`

	s := &domain.MessageStatus{}
	var msgID, convID, recID gocql.UUID
	var status string

	start := time.Now()
	err := r.session.Query(query, gocql.UUID(messageID), gocql.UUID(recipientID)).
		Scan(&msgID, &convID, &recID, &status, &s.UpdatedAt)
	if err == gocql.ErrNotFound {
		observe("get", "message_status", start, nil)
		return nil, nil
	}
	observe("get", "message_status", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message status: %w", err)
	}

	s.MessageID = uuid.UUID(msgID)
	s.ConversationID = uuid.UUID(convID)
	s.RecipientID = uuid.UUID(recID)
	s.Status = domain.DeliveryState(status)

	return s, nil
}

// Upsert writes the status row for a (message, recipient) pair
func (r *StatusRepository) Upsert(status *domain.MessageStatus) error {
	query := `
		INSERT INTO message_status (message_id, conversation_id, recipient_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := r.session.Query(query,
		gocql.UUID(status.MessageID),
		gocql.UUID(status.ConversationID),
		gocql.UUID(status.RecipientID),
		string(status.Status),
		status.UpdatedAt,
	).Exec()
	observe("upsert", "message_status", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert message status: %w", err)
	}

	return nil
}

// ListByMessage lists all recipient statuses of one message
func (r *StatusRepository) ListByMessage(messageID uuid.UUID) ([]*domain.MessageStatus, error) {
	query := `
		SELECT message_id, conversation_id, recipient_id, status, updated_at
		FROM message_status
		WHERE message_id = ?
	`

	start := time.Now()
	iter := r.session.Query(query, gocql.UUID(messageID)).Iter()

	var statuses []*domain.MessageStatus
	for {
		s := &domain.MessageStatus{}
		var msgID, convID, recID gocql.UUID
		var status string
		if !iter.Scan(&msgID, &convID, &recID, &status, &s.UpdatedAt) {
			break
		}
		s.MessageID = uuid.UUID(msgID)
		s.ConversationID = uuid.UUID(convID)
		s.RecipientID = uuid.UUID(recID)
		s.Status = domain.DeliveryState(status)
		statuses = append(statuses, s)
	}

	err := iter.Close()
	observe("list", "message_status", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list message statuses: %w", err)
	}

	return statuses, nil
}

// ListPendingForRecipient lists rows still in sent state for a
// recipient inside one conversation, used for at-least-once catch-up
// when a participant reconnects. Reads from the by-recipient view.
func (r *StatusRepository) ListPendingForRecipient(conversationID, recipientID uuid.UUID, limit int) ([]*domain.MessageStatus, error) {
	query := `
		SELECT message_id, conversation_id, recipient_id, status, updated_at
		FROM message_status_by_recipient
		WHERE conversation_id = ? AND recipient_id = ? AND status = ?
		LIMIT ?
	`

	start := time.Now()
	iter := r.session.Query(query,
		gocql.UUID(conversationID), gocql.UUID(recipientID), string(domain.StatusSent), limit).Iter()

	var statuses []*domain.MessageStatus
	for {
		s := &domain.MessageStatus{}
		var msgID, convID, recID gocql.UUID
		var status string
		if !iter.Scan(&msgID, &convID, &recID, &status, &s.UpdatedAt) {
			break
		}
		s.MessageID = uuid.UUID(msgID)
		s.ConversationID = uuid.UUID(convID)
		s.RecipientID = uuid.UUID(recID)
		s.Status = domain.DeliveryState(status)
		statuses = append(statuses, s)
	}

	err := iter.Close()
	observe("list_pending", "message_status_by_recipient", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending statuses: %w", err)
	}

	return statuses, nil
}

// TouchUpdatedAt is a helper for idempotent repeats: rewrites the
// timestamp without changing status.
func (r *StatusRepository) TouchUpdatedAt(status *domain.MessageStatus) error {
	status.UpdatedAt = time.Now().UTC()
	return r.Upsert(status)
}
