package transcribe

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio io.Reader, contentType, language string) (string, error) {
	args := m.Called(ctx, audio, contentType, language)
	return args.String(0), args.Error(1)
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, objectKey string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, objectKey)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

type MockAnnouncer struct {
	mock.Mock
}

func (m *MockAnnouncer) SendSystemMessage(ctx context.Context, conversationID, actorID uuid.UUID, content string, priority domain.Priority) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, actorID, content, priority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func voiceMessage() *domain.Message {
	return &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		Type:           domain.MessageTypeVoice,
		Priority:       domain.PriorityNormal,
	}
}

func TestProcessVoiceMessage_PostsTranscript(t *testing.T) {
	transcriber := new(MockTranscriber)
	fetcher := new(MockFetcher)
	announcer := new(MockAnnouncer)
	svc := NewService(transcriber, fetcher, announcer)

	message := voiceMessage()
	clip := io.NopCloser(strings.NewReader("opus-bytes"))

	fetcher.On("Fetch", mock.Anything, "voice/abc.ogg").Return(clip, "audio/ogg", nil)
	transcriber.On("Transcribe", mock.Anything, clip, "audio/ogg", "en").
		Return("take two tablets after meals", nil)
	announcer.On("SendSystemMessage", mock.Anything, message.ConversationID, message.SenderID,
		mock.MatchedBy(func(content string) bool {
			return strings.Contains(content, message.MessageID.String()) &&
				strings.Contains(content, "take two tablets after meals")
		}), domain.PriorityNormal).
		Return(&domain.Message{MessageID: uuid.New()}, nil)

	svc.ProcessVoiceMessage(context.Background(), message, "voice/abc.ogg", "en")

	fetcher.AssertExpectations(t)
	transcriber.AssertExpectations(t)
	announcer.AssertExpectations(t)
}

func TestProcessVoiceMessage_IgnoresNonVoiceMessages(t *testing.T) {
	transcriber := new(MockTranscriber)
	fetcher := new(MockFetcher)
	announcer := new(MockAnnouncer)
	svc := NewService(transcriber, fetcher, announcer)

	message := voiceMessage()
	message.Type = domain.MessageTypeText

	svc.ProcessVoiceMessage(context.Background(), message, "voice/abc.ogg", "en")

	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	announcer.AssertNotCalled(t, "SendSystemMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessVoiceMessage_FetchFailureIsSwallowed(t *testing.T) {
	transcriber := new(MockTranscriber)
	fetcher := new(MockFetcher)
	announcer := new(MockAnnouncer)
	svc := NewService(transcriber, fetcher, announcer)

	message := voiceMessage()
	fetcher.On("Fetch", mock.Anything, "voice/missing.ogg").
		Return(nil, "", errors.New("object not found"))

	assert.NotPanics(t, func() {
		svc.ProcessVoiceMessage(context.Background(), message, "voice/missing.ogg", "en")
	})

	transcriber.AssertNotCalled(t, "Transcribe",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	announcer.AssertNotCalled(t, "SendSystemMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessVoiceMessage_TranscriberFailureIsSwallowed(t *testing.T) {
	transcriber := new(MockTranscriber)
	fetcher := new(MockFetcher)
	announcer := new(MockAnnouncer)
	svc := NewService(transcriber, fetcher, announcer)

	message := voiceMessage()
	clip := io.NopCloser(strings.NewReader("opus-bytes"))

	fetcher.On("Fetch", mock.Anything, "voice/abc.ogg").Return(clip, "audio/ogg", nil)
	transcriber.On("Transcribe", mock.Anything, clip, "audio/ogg", "vi").
		Return("", errors.New("upstream timeout"))

	svc.ProcessVoiceMessage(context.Background(), message, "voice/abc.ogg", "vi")

	announcer.AssertNotCalled(t, "SendSystemMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessVoiceMessage_EmptyTranscriptIsDropped(t *testing.T) {
	transcriber := new(MockTranscriber)
	fetcher := new(MockFetcher)
	announcer := new(MockAnnouncer)
	svc := NewService(transcriber, fetcher, announcer)

	message := voiceMessage()
	clip := io.NopCloser(strings.NewReader("silence"))

	fetcher.On("Fetch", mock.Anything, "voice/quiet.ogg").Return(clip, "audio/ogg", nil)
	transcriber.On("Transcribe", mock.Anything, clip, "audio/ogg", "en").Return("", nil)

	svc.ProcessVoiceMessage(context.Background(), message, "voice/quiet.ogg", "en")

	announcer.AssertNotCalled(t, "SendSystemMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
