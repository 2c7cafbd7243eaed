package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryRepository resolves who to reach during an escalation:
// a patient's registered emergency contacts and the on-call roster.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// EmergencyContacts lists the user IDs registered as emergency
// contacts for a patient, in priority order.
func (r *DirectoryRepository) EmergencyContacts(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT contact_user_id
		FROM emergency_contacts
		WHERE user_id = $1 AND is_active = true
		ORDER BY priority ASC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency contacts: %w", err)
	}
	defer rows.Close()

	var contacts []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan emergency contact: %w", err)
		}
		contacts = append(contacts, id)
	}

	return contacts, rows.Err()
}

// OnCallStaff lists clinicians currently on call.
func (r *DirectoryRepository) OnCallStaff(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM on_call_roster
		WHERE now() BETWEEN shift_start AND shift_end
		ORDER BY shift_start ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list on-call staff: %w", err)
	}
	defer rows.Close()

	var staff []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan on-call entry: %w", err)
		}
		staff = append(staff, id)
	}

	return staff, rows.Err()
}
