package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// TemplateRepository handles quick-response message templates
type TemplateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Create inserts a template
func (r *TemplateRepository) Create(ctx context.Context, t *domain.MessageTemplate) error {
	query := `
		INSERT INTO message_templates (template_id, owner_id, label, body, category, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		t.TemplateID, t.OwnerID, t.Label, t.Body, t.Category, t.IsActive, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// ListByOwner lists active templates, optionally filtered by category
func (r *TemplateRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error) {
	query := `
		SELECT template_id, owner_id, label, body, category, is_active, created_at
		FROM message_templates
		WHERE owner_id = $1 AND is_active = true AND ($2 = '' OR category = $2)
		ORDER BY label ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.MessageTemplate
	for rows.Next() {
		t := &domain.MessageTemplate{}
		if err := rows.Scan(&t.TemplateID, &t.OwnerID, &t.Label, &t.Body, &t.Category, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// Deactivate soft-removes a template
func (r *TemplateRepository) Deactivate(ctx context.Context, templateID, ownerID uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE message_templates SET is_active = false WHERE template_id = $1 AND owner_id = $2`,
		templateID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.NotFoundError("Template")
	}

	return nil
}
