package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/push"
)

// PrefsStore looks up a participant's notification preferences.
type PrefsStore interface {
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Participant, error)
}

// Pusher sends a push notification to a set of users.
type Pusher interface {
	SendCustomNotification(ctx context.Context, notification *push.Notification, userIDs []uuid.UUID) error
}

// Sink is the fire-and-forget notification outlet. Callers never see
// delivery errors; they are logged and dropped so the message path
// stays unaffected by provider outages.
type Sink struct {
	pusher  Pusher
	prefs   PrefsStore
	timeout time.Duration
}

// NewSink creates a notification sink. pusher may be nil, which turns
// every Notify into a no-op.
func NewSink(pusher Pusher, prefs PrefsStore) *Sink {
	return &Sink{pusher: pusher, prefs: prefs, timeout: 10 * time.Second}
}

// Notify pushes to one user, honoring their per-conversation prefs
// when conversationID is set. Runs in the background.
func (s *Sink) Notify(ctx context.Context, conversationID, userID uuid.UUID, title, body string, data map[string]string) {
	if s.pusher == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if conversationID != uuid.Nil && s.prefs != nil {
			participant, err := s.prefs.GetParticipant(ctx, conversationID, userID)
			if err == nil && !participant.NotifyPrefs.Push {
				return
			}
		}

		notification := &push.Notification{
			Title:    title,
			Body:     body,
			Data:     data,
			Priority: "high",
		}
		if err := s.pusher.SendCustomNotification(ctx, notification, []uuid.UUID{userID}); err != nil {
			logger.Log.Warn("push notification failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

// NotifyMany fans one notification out to several users.
func (s *Sink) NotifyMany(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, title, body string, data map[string]string) {
	for _, userID := range userIDs {
		s.Notify(ctx, conversationID, userID, title, body, data)
	}
}
