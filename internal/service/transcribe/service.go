package transcribe

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
)

// AudioFetcher streams a stored audio object.
type AudioFetcher interface {
	Fetch(ctx context.Context, objectKey string) (io.ReadCloser, string, error)
}

// Announcer appends the transcript as a system message.
type Announcer interface {
	SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error)
}

// Service turns voice messages into transcript system messages.
// Strictly best effort: a failed transcription is logged and the voice
// message stands on its own.
type Service struct {
	transcriber Transcriber
	fetcher     AudioFetcher
	announcer   Announcer
}

// NewService creates a new transcription service.
func NewService(transcriber Transcriber, fetcher AudioFetcher, announcer Announcer) *Service {
	return &Service{transcriber: transcriber, fetcher: fetcher, announcer: announcer}
}

// ProcessVoiceMessage fetches the clip behind a voice message,
// transcribes it, and posts the transcript back into the conversation
// referencing the source message.
func (s *Service) ProcessVoiceMessage(ctx context.Context, message *domain.Message, objectKey, language string) {
	if message.Type != domain.MessageTypeVoice {
		return
	}

	audio, contentType, err := s.fetcher.Fetch(ctx, objectKey)
	if err != nil {
		logger.Log.Warn("failed to fetch voice clip",
			zap.String("message_id", message.MessageID.String()),
			zap.String("object_key", objectKey),
			zap.Error(err))
		return
	}
	defer audio.Close()

	text, err := s.transcriber.Transcribe(ctx, audio, contentType, language)
	if err != nil {
		logger.Log.Warn("transcription failed",
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
		return
	}
	if text == "" {
		return
	}

	content := fmt.Sprintf("transcript of %s: %s", message.MessageID, text)
	if _, err := s.announcer.SendSystemMessage(ctx, message.ConversationID, message.SenderID, content, message.Priority); err != nil {
		logger.Log.Warn("failed to post transcript",
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
	}
}
