package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// AttachmentRepository tracks object-store artifacts linked to
// messages: voice clips, images, documents.
type AttachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

// Create inserts an attachment row
func (r *AttachmentRepository) Create(ctx context.Context, a *domain.Attachment) error {
	query := `
		INSERT INTO attachments (attachment_id, message_id, object_key, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		a.AttachmentID, a.MessageID, a.ObjectKey, a.ContentType, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	return nil
}

// GetByID retrieves one attachment
func (r *AttachmentRepository) GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error) {
	query := `
		SELECT attachment_id, message_id, object_key, content_type, size_bytes, created_at
		FROM attachments
		WHERE attachment_id = $1
	`

	a := &domain.Attachment{}
	err := r.pool.QueryRow(ctx, query, attachmentID).Scan(
		&a.AttachmentID, &a.MessageID, &a.ObjectKey, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("Attachment")
		}
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return a, nil
}

// ListByMessage lists a message's attachments
func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.Attachment, error) {
	query := `
		SELECT attachment_id, message_id, object_key, content_type, size_bytes, created_at
		FROM attachments
		WHERE message_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*domain.Attachment
	for rows.Next() {
		a := &domain.Attachment{}
		if err := rows.Scan(&a.AttachmentID, &a.MessageID, &a.ObjectKey, &a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// Delete removes an attachment row
func (r *AttachmentRepository) Delete(ctx context.Context, attachmentID uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE attachment_id = $1`, attachmentID)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Attachment")
	}

	return nil
}
