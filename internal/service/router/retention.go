package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mediconnect-backend/pkg/logger"
	"mediconnect-backend/pkg/metrics"
)

// RunRetentionSweep deletes messages older than their conversation's
// retention window. Emergency messages and conversations under legal
// hold are exempt. Returns how many rows were deleted.
func (s *Service) RunRetentionSweep(ctx context.Context) (int, error) {
	conversations, err := s.conversationRepo.ListForRetention(ctx, s.cfg.RetentionBatch)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, conversation := range conversations {
		if conversation.RetentionDays <= 0 {
			continue
		}
		if conversation.LegalHold {
			metrics.RouterRetentionSweptTotal.WithLabelValues("exempt_hold").Inc()
			continue
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -conversation.RetentionDays)
		expired, err := s.messageRepo.ListOlderThan(conversation.ConversationID, cutoff, s.cfg.RetentionBatch)
		if err != nil {
			logger.Log.Error("retention scan failed",
				zap.String("conversation_id", conversation.ConversationID.String()),
				zap.Error(err))
			continue
		}

		for _, message := range expired {
			if message.RetentionExempt() {
				metrics.RouterRetentionSweptTotal.WithLabelValues("exempt_emergency").Inc()
				continue
			}
			if err := s.messageRepo.Delete(message.ConversationID, message.MessageID, message.CreatedAt); err != nil {
				logger.Log.Error("retention delete failed",
					zap.String("message_id", message.MessageID.String()),
					zap.Error(err))
				continue
			}
			metrics.RouterRetentionSweptTotal.WithLabelValues("deleted").Inc()
			deleted++
		}
	}

	if deleted > 0 {
		logger.Log.Info("retention sweep finished", zap.Int("deleted", deleted))
	}

	return deleted, nil
}

// StartRetentionSweep runs the sweep on a fixed interval until the
// context is cancelled.
func (s *Service) StartRetentionSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunRetentionSweep(ctx); err != nil {
					logger.Log.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
