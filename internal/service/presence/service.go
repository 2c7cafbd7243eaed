package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	apperrors "mediconnect-backend/pkg/errors"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
)

// ParticipantStore is the durable participant state in CockroachDB.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error)
	SetParticipantActive(ctx context.Context, conversationID, userID uuid.UUID, active bool, observedAt time.Time) (bool, error)
}

// LivenessStore is the fast-path presence view in Redis.
type LivenessStore interface {
	MarkActive(ctx context.Context, conversationID, userID string, activatedAt time.Time) error
	MarkInactive(ctx context.Context, conversationID, userID string, observedActivation time.Time) (bool, error)
	Heartbeat(ctx context.Context, conversationID, userID string) error
	ActiveParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error)
	StaleParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error)
}

// Service tracks who is live in which conversation. Activation is
// timestamped and every deactivation carries the activation it
// observed, so a reactivate-then-stale-deactivate interleaving never
// kicks a live participant.
type Service struct {
	participantRepo  ParticipantStore
	livenessRepo     LivenessStore
	heartbeatTimeout time.Duration
}

// NewService creates a new presence service.
func NewService(participantRepo ParticipantStore, livenessRepo LivenessStore, heartbeatTimeout time.Duration) *Service {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 90 * time.Second
	}
	return &Service{
		participantRepo:  participantRepo,
		livenessRepo:     livenessRepo,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Activate marks a participant live. Returns the activation timestamp
// the caller must hand back on deactivation.
func (s *Service) Activate(ctx context.Context, conversationID, userID uuid.UUID) (time.Time, error) {
	participant, err := s.participantRepo.GetParticipant(ctx, conversationID, userID)
	if err != nil || participant.HasLeft() {
		return time.Time{}, apperrors.NotAParticipantError()
	}

	now := time.Now().UTC()
	if _, err := s.participantRepo.SetParticipantActive(ctx, conversationID, userID, true, now); err != nil {
		return time.Time{}, err
	}
	if err := s.livenessRepo.MarkActive(ctx, conversationID.String(), userID.String(), now); err != nil {
		// Redis is a cache of the durable row; log and continue.
		logger.Log.Warn("failed to mark participant live",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	return now, nil
}

// Deactivate marks a participant inactive, guarded by the activation
// the caller observed. Returns false when a newer activation made the
// deactivation stale, in which case nothing changed.
func (s *Service) Deactivate(ctx context.Context, conversationID, userID uuid.UUID, observedActivation time.Time) (bool, error) {
	applied, err := s.participantRepo.SetParticipantActive(ctx, conversationID, userID, false, observedActivation)
	if err != nil {
		return false, err
	}
	if !applied {
		metrics.PresenceStaleDeactivationTotal.Inc()
		logger.Log.Debug("stale deactivation skipped",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()))
		return false, nil
	}

	if _, err := s.livenessRepo.MarkInactive(ctx, conversationID.String(), userID.String(), observedActivation); err != nil {
		logger.Log.Warn("failed to clear liveness entry", zap.Error(err))
	}

	return true, nil
}

// Heartbeat refreshes a participant's liveness stamp.
func (s *Service) Heartbeat(ctx context.Context, conversationID, userID uuid.UUID) error {
	metrics.PresenceHeartbeatTotal.Inc()
	return s.livenessRepo.Heartbeat(ctx, conversationID.String(), userID.String())
}

// ActiveParticipants lists participants whose heartbeat is fresh.
// Participants that stopped beating but were never deactivated are
// filtered out here even before the stale sweep catches them.
func (s *Service) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) (map[string]time.Time, error) {
	active, err := s.livenessRepo.ActiveParticipants(ctx, conversationID.String(), s.heartbeatTimeout)
	if err != nil {
		return nil, err
	}

	metrics.PresenceActiveParticipants.WithLabelValues(conversationID.String()).Set(float64(len(active)))

	return active, nil
}

// SweepStale deactivates participants whose heartbeat lapsed, passing
// each one's stored activation as the guard so a participant that
// reconnected mid-sweep stays active. Returns how many were swept.
func (s *Service) SweepStale(ctx context.Context, conversationID uuid.UUID) (int, error) {
	stale, err := s.livenessRepo.StaleParticipants(ctx, conversationID.String(), s.heartbeatTimeout)
	if err != nil {
		return 0, err
	}

	swept := 0
	for userID, activatedAt := range stale {
		uid, err := uuid.Parse(userID)
		if err != nil {
			logger.Log.Warn("unparsable user id in presence set", zap.String("user_id", userID))
			continue
		}
		applied, err := s.Deactivate(ctx, conversationID, uid, activatedAt)
		if err != nil {
			logger.Log.Error("failed to sweep stale participant",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if applied {
			swept++
		}
	}

	return swept, nil
}
