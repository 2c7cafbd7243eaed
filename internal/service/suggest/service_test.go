package suggest

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

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

type MockTemplateStore struct {
	mock.Mock
}

func (m *MockTemplateStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error) {
	args := m.Called(ctx, ownerID, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MessageTemplate), args.Error(1)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) ListByConversation(conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	args := m.Called(conversationID, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]*domain.Message), args.Get(1).([]byte), args.Error(2)
}

func TestSuggestRanksByOverlap(t *testing.T) {
	templates := new(MockTemplateStore)
	messages := new(MockMessageStore)
	service := NewService(templates, messages, time.Second)

	conversationID := uuid.New()
	ownerID := uuid.New()

	templates.On("ListByOwner", mock.Anything, ownerID, "").Return([]*domain.MessageTemplate{
		{TemplateID: uuid.New(), Label: "dosage", Body: "Tome la dosis indicada con alimentos"},
		{TemplateID: uuid.New(), Label: "greeting", Body: "Buenos dias, ¿como se encuentra hoy?"},
	}, nil)
	messages.On("ListByConversation", conversationID, 20, []byte(nil)).Return([]*domain.Message{
		{Content: "tengo dudas sobre la dosis del medicamento", Type: domain.MessageTypeText},
	}, []byte(nil), nil)

	suggestions := service.Suggest(context.Background(), conversationID, ownerID, 2)

	assert.Len(t, suggestions, 2)
	assert.Contains(t, suggestions[0].Text, "dosis")
	assert.Greater(t, suggestions[0].Score, suggestions[1].Score)
}

func TestSuggestFallsBackOnError(t *testing.T) {
	templates := new(MockTemplateStore)
	messages := new(MockMessageStore)
	service := NewService(templates, messages, time.Second)

	templates.On("ListByOwner", mock.Anything, mock.Anything, "").
		Return(nil, errors.New("database unavailable"))

	suggestions := service.Suggest(context.Background(), uuid.New(), uuid.New(), 3)

	// Degrades to canned replies, never to an error.
	assert.Len(t, suggestions, 3)
}

func TestSuggestRespectsLimit(t *testing.T) {
	templates := new(MockTemplateStore)
	messages := new(MockMessageStore)
	service := NewService(templates, messages, time.Second)

	templates.On("ListByOwner", mock.Anything, mock.Anything, "").Return([]*domain.MessageTemplate{
		{TemplateID: uuid.New(), Body: "a"},
		{TemplateID: uuid.New(), Body: "b"},
		{TemplateID: uuid.New(), Body: "c"},
	}, nil)
	messages.On("ListByConversation", mock.Anything, 20, []byte(nil)).
		Return([]*domain.Message{}, []byte(nil), nil)

	suggestions := service.Suggest(context.Background(), uuid.New(), uuid.New(), 2)

	assert.Len(t, suggestions, 2)
}
