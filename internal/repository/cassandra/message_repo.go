package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// MessageRepository handles the per-conversation message log in Cassandra.
// Messages are partitioned by conversation and clustered by
// (created_at ASC, message_id ASC), so one partition is one append-ordered
// log and paging with a page state never reorders or skips rows.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

const messageColumns = `conversation_id, message_id, sender_id, type, content,
	cipher_text, reply_to, priority, edited, deleted, expires_at, metadata,
	created_at, updated_at`

// Append inserts a new message at the tail of the conversation log
func (r *MessageRepository) Append(message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var replyTo *gocql.UUID
	if message.ReplyTo != nil {
		id := gocql.UUID(*message.ReplyTo)
		replyTo = &id
	}

	start := time.Now()
	err := r.session.Query(query,
		gocql.UUID(message.ConversationID),
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		string(message.Type),
		message.Content,
		message.CipherText,
		replyTo,
		string(message.Priority),
		message.Edited,
		message.Deleted,
		message.ExpiresAt,
		message.Metadata,
		message.CreatedAt,
		message.UpdatedAt,
	).Exec()
	observe("append", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func scanMessage(scan func(dest ...interface{}) bool) (*domain.Message, bool) {
	m := &domain.Message{}
	var conversationID, messageID, senderID gocql.UUID
	var replyTo *gocql.UUID
	var msgType, priority string

	ok := scan(
		&conversationID, &messageID, &senderID, &msgType, &m.Content,
		&m.CipherText, &replyTo, &priority, &m.Edited, &m.Deleted,
		&m.ExpiresAt, &m.Metadata, &m.CreatedAt, &m.UpdatedAt,
	)
	if !ok {
		return nil, false
	}

	m.ConversationID = uuid.UUID(conversationID)
	m.MessageID = uuid.UUID(messageID)
	m.SenderID = uuid.UUID(senderID)
	m.Type = domain.MessageType(msgType)
	m.Priority = domain.Priority(priority)
	if replyTo != nil {
		id := uuid.UUID(*replyTo)
		m.ReplyTo = &id
	}

	return m, true
}

// ListByConversation retrieves one page of messages in creation order,
// ascending, restartable via the opaque page state cursor.
func (r *MessageRepository) ListByConversation(conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
	`

	start := time.Now()
	iter := r.session.Query(query, gocql.UUID(conversationID)).
		PageSize(limit).
		PageState(pageState).
		Iter()

	var messages []*domain.Message
	for {
		m, ok := scanMessage(iter.Scan)
		if !ok {
			break
		}
		messages = append(messages, m)
	}

	nextPageState := iter.PageState()
	err := iter.Close()
	observe("list", "messages", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nextPageState, nil
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND message_id = ?
		LIMIT 1 ALLOW FILTERING
	`

	start := time.Now()
	iter := r.session.Query(query, gocql.UUID(conversationID), gocql.UUID(messageID)).Iter()
	m, ok := scanMessage(iter.Scan)
	err := iter.Close()
	observe("get", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, apperrors.MessageNotFoundError()
	}

	return m, nil
}

// SoftDelete clears content and flags the row deleted; the row is
// retained for audit. Requires the clustering timestamp of the row.
func (r *MessageRepository) SoftDelete(conversationID, messageID uuid.UUID, createdAt time.Time) error {
	query := `
		UPDATE messages
		SET content = '', cipher_text = null, deleted = true, updated_at = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
	`

	start := time.Now()
	err := r.session.Query(query,
		start.UTC(),
		gocql.UUID(conversationID),
		createdAt,
		gocql.UUID(messageID),
	).Exec()
	observe("soft_delete", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to soft delete message: %w", err)
	}

	return nil
}

// ListOlderThan scans a conversation's messages created before the
// cutoff, for the retention sweep. Emergency exemption is applied by
// the caller, not here.
func (r *MessageRepository) ListOlderThan(conversationID uuid.UUID, cutoff time.Time, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		LIMIT ?
	`

	start := time.Now()
	iter := r.session.Query(query, gocql.UUID(conversationID), cutoff, limit).Iter()

	var messages []*domain.Message
	for {
		m, ok := scanMessage(iter.Scan)
		if !ok {
			break
		}
		messages = append(messages, m)
	}

	err := iter.Close()
	observe("retention_scan", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for retention: %w", err)
	}

	return messages, nil
}

// Delete hard-removes a message row; only used by the retention sweep
// for non-exempt expired rows.
func (r *MessageRepository) Delete(conversationID, messageID uuid.UUID, createdAt time.Time) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND created_at = ? AND message_id = ?`

	start := time.Now()
	err := r.session.Query(query, gocql.UUID(conversationID), createdAt, gocql.UUID(messageID)).Exec()
	observe("delete", "messages", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}
