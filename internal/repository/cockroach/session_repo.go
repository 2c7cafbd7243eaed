package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
)

// SessionRepository handles video-consultation session persistence.
// Status changes go through compare-and-set updates guarded by the
// current state, never blind overwrites: concurrent joins from multiple
// devices are expected.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `
	session_id, appointment_id, conversation_id, doctor_id, patient_id,
	session_token, status, started_at, ended_at, duration_minutes,
	recording_consent, transcript_consent, recording_active, transcript_active,
	recording_url, transcript_url, emergency_escalated, created_at, updated_at
`

func scanSession(row pgx.Row) (*domain.CallSession, error) {
	s := &domain.CallSession{}
	err := row.Scan(
		&s.SessionID, &s.AppointmentID, &s.ConversationID, &s.DoctorID, &s.PatientID,
		&s.SessionToken, &s.Status, &s.StartedAt, &s.EndedAt, &s.DurationMinutes,
		&s.RecordingConsent, &s.TranscriptConsent, &s.RecordingActive, &s.TranscriptActive,
		&s.RecordingURL, &s.TranscriptURL, &s.EmergencyEscalated, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return s, nil
}

// Create inserts a new session in the waiting state
func (r *SessionRepository) Create(ctx context.Context, session *domain.CallSession) error {
	query := `
		INSERT INTO call_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.pool.Exec(ctx, query,
		session.SessionID, session.AppointmentID, session.ConversationID,
		session.DoctorID, session.PatientID, session.SessionToken, session.Status,
		session.StartedAt, session.EndedAt, session.DurationMinutes,
		session.RecordingConsent, session.TranscriptConsent,
		session.RecordingActive, session.TranscriptActive,
		session.RecordingURL, session.TranscriptURL,
		session.EmergencyEscalated, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE session_id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, sessionID))
}

// JoinResult is the outcome of an atomic join computed inside the
// join transaction from the post-join participant set.
type JoinResult struct {
	Session       *domain.CallSession
	From          domain.SessionStatus
	AlreadyJoined bool
}

// Join adds a participant and advances the state machine in one
// transaction. The row is locked for the duration so racing joins from
// both parties serialize and the resulting state is computed from the
// participant set after the insert, not from a read-then-write race.
func (r *SessionRepository) Join(ctx context.Context, sessionID, userID uuid.UUID) (*JoinResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE session_id = $1 FOR UPDATE`, sessionID))
	if err != nil {
		return nil, err
	}

	from := session.Status
	if from != domain.SessionWaiting && from != domain.SessionConnecting {
		// Idempotent rejoin: a user already in an active session is a no-op.
		if from == domain.SessionActive {
			var present bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL)`,
				sessionID, userID).Scan(&present)
			if err != nil {
				return nil, fmt.Errorf("failed to check session participant: %w", err)
			}
			if present {
				if err := tx.Commit(ctx); err != nil {
					return nil, err
				}
				return &JoinResult{Session: session, From: from, AlreadyJoined: true}, nil
			}
		}
		return nil, apperrors.InvalidTransitionError(string(from), string(domain.SessionConnecting))
	}

	now := time.Now().UTC()
	upsert := `
		INSERT INTO session_participants (session_id, user_id, joined_at, left_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (session_id, user_id) DO UPDATE SET left_at = NULL
	`
	if _, err := tx.Exec(ctx, upsert, sessionID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to add session participant: %w", err)
	}

	var doctorPresent, patientPresent bool
	err = tx.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL),
			EXISTS(SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $3 AND left_at IS NULL)
	`, sessionID, session.DoctorID, session.PatientID).Scan(&doctorPresent, &patientPresent)
	if err != nil {
		return nil, fmt.Errorf("failed to count session participants: %w", err)
	}

	next := domain.SessionConnecting
	if doctorPresent && patientPresent {
		next = domain.SessionActive
	}

	if next != from {
		set := `status = $2, updated_at = $3`
		args := []interface{}{sessionID, next, now}
		if next == domain.SessionActive {
			set += `, started_at = COALESCE(started_at, $3)`
		}
		if _, err := tx.Exec(ctx, `UPDATE call_sessions SET `+set+` WHERE session_id = $1`, args...); err != nil {
			return nil, fmt.Errorf("failed to update session status: %w", err)
		}
		session.Status = next
		session.UpdatedAt = now
		if next == domain.SessionActive && session.StartedAt == nil {
			session.StartedAt = &now
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &JoinResult{Session: session, From: from}, nil
}

// LeaveResult is the outcome of an atomic leave.
type LeaveResult struct {
	Session *domain.CallSession
	From    domain.SessionStatus
}

// Leave marks the participant as departed and computes the resulting
// state from the remaining participant count: last leaver ends an
// active session; a solitary leaver returns a connecting session to
// waiting since no consultation exchange has occurred yet.
func (r *SessionRepository) Leave(ctx context.Context, sessionID, userID uuid.UUID) (*LeaveResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE session_id = $1 FOR UPDATE`, sessionID))
	if err != nil {
		return nil, err
	}

	from := session.Status
	if from.Terminal() {
		// Leaving an ended session is harmless.
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &LeaveResult{Session: session, From: from}, nil
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE session_participants SET left_at = $3 WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`,
		sessionID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to mark participant left: %w", err)
	}

	var remaining int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND left_at IS NULL`,
		sessionID).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining participants: %w", err)
	}

	if remaining == 0 {
		switch from {
		case domain.SessionConnecting:
			// Solitary party left before the consultation started.
			if _, err := tx.Exec(ctx,
				`UPDATE call_sessions SET status = $2, updated_at = $3 WHERE session_id = $1`,
				sessionID, domain.SessionWaiting, now); err != nil {
				return nil, fmt.Errorf("failed to reset session: %w", err)
			}
			session.Status = domain.SessionWaiting
		case domain.SessionActive:
			duration := 0
			if session.StartedAt != nil {
				duration = int(now.Sub(*session.StartedAt).Minutes())
			}
			if _, err := tx.Exec(ctx, `
				UPDATE call_sessions
				SET status = $2, ended_at = $3, duration_minutes = $4, updated_at = $3
				WHERE session_id = $1 AND ended_at IS NULL
			`, sessionID, domain.SessionEnded, now, duration); err != nil {
				return nil, fmt.Errorf("failed to end session: %w", err)
			}
			session.Status = domain.SessionEnded
			session.EndedAt = &now
			session.DurationMinutes = duration
		}
		session.UpdatedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &LeaveResult{Session: session, From: from}, nil
}

// TransitionStatus moves the session between states with a CAS guard on
// the expected current states. endedAt is written exactly once on entry
// to a terminal state.
func (r *SessionRepository) TransitionStatus(ctx context.Context, sessionID uuid.UUID, expected []domain.SessionStatus, next domain.SessionStatus) (*domain.CallSession, error) {
	now := time.Now().UTC()

	set := `status = $2, updated_at = $3`
	if next.Terminal() {
		set += `, ended_at = COALESCE(ended_at, $3)`
	}
	if next == domain.SessionEmergency {
		set += `, emergency_escalated = true`
	}

	expectedStrs := make([]string, len(expected))
	for i, s := range expected {
		expectedStrs[i] = string(s)
	}

	query := `
		UPDATE call_sessions SET ` + set + `
		WHERE session_id = $1 AND status = ANY($4)
		RETURNING ` + sessionColumns

	session, err := scanSession(r.pool.QueryRow(ctx, query, sessionID, next, now, expectedStrs))
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeSessionNotFound) {
			// Either missing or in a state outside the expected set.
			current, getErr := r.GetByID(ctx, sessionID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, apperrors.InvalidTransitionError(string(current.Status), string(next))
		}
		return nil, err
	}

	return session, nil
}

// SetConsent updates the two independent consent flags
func (r *SessionRepository) SetConsent(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool) (*domain.CallSession, error) {
	query := `
		UPDATE call_sessions
		SET recording_consent = COALESCE($2, recording_consent),
		    transcript_consent = COALESCE($3, transcript_consent),
		    updated_at = $4
		WHERE session_id = $1
		RETURNING ` + sessionColumns

	return scanSession(r.pool.QueryRow(ctx, query, sessionID, recording, transcript, time.Now().UTC()))
}

// SetCaptureState flips recording/transcription activity flags.
// Guarded by expected session status when statusGuard is non-empty.
func (r *SessionRepository) SetCaptureState(ctx context.Context, sessionID uuid.UUID, recording, transcript *bool, statusGuard []domain.SessionStatus) (*domain.CallSession, error) {
	query := `
		UPDATE call_sessions
		SET recording_active = COALESCE($2, recording_active),
		    transcript_active = COALESCE($3, transcript_active),
		    updated_at = $4
		WHERE session_id = $1
	`
	args := []interface{}{sessionID, recording, transcript, time.Now().UTC()}

	if len(statusGuard) > 0 {
		guard := make([]string, len(statusGuard))
		for i, s := range statusGuard {
			guard[i] = string(s)
		}
		query += ` AND status = ANY($5)`
		args = append(args, guard)
	}
	query += ` RETURNING ` + sessionColumns

	return scanSession(r.pool.QueryRow(ctx, query, args...))
}

// SetArtifactURLs stores produced recording/transcript locations
func (r *SessionRepository) SetArtifactURLs(ctx context.Context, sessionID uuid.UUID, recordingURL, transcriptURL *string) error {
	query := `
		UPDATE call_sessions
		SET recording_url = COALESCE($2, recording_url),
		    transcript_url = COALESCE($3, transcript_url),
		    updated_at = $4
		WHERE session_id = $1
	`

	cmdTag, err := r.pool.Exec(ctx, query, sessionID, recordingURL, transcriptURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set artifact URLs: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.SessionNotFoundError()
	}

	return nil
}

// GetParticipants lists session participants
func (r *SessionRepository) GetParticipants(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionParticipant, error) {
	query := `
		SELECT session_id, user_id, joined_at, left_at
		FROM session_participants
		WHERE session_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.SessionParticipant
	for rows.Next() {
		p := &domain.SessionParticipant{}
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan session participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}
