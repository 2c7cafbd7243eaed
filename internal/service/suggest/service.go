package suggest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediconnect-backend/internal/domain"
	"mediconnect-backend/pkg/logger"
)

// TemplateStore lists a clinician's quick-response templates.
type TemplateStore interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID, category string) ([]*domain.MessageTemplate, error)
}

// MessageStore reads recent conversation history.
type MessageStore interface {
	ListByConversation(conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error)
}

// Suggestion is one proposed quick reply.
type Suggestion struct {
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
}

// Service proposes quick replies from the clinician's templates ranked
// against recent conversation content. Best effort: an error or a slow
// lookup degrades to an empty list, never into the message flow.
type Service struct {
	templates TemplateStore
	messages  MessageStore
	timeout   time.Duration
}

// NewService creates a new suggester.
func NewService(templates TemplateStore, messages MessageStore, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Service{templates: templates, messages: messages, timeout: timeout}
}

// fallback suggestions when no template matches.
var fallback = []Suggestion{
	{Text: "Entendido, gracias.", Score: 0.1},
	{Text: "¿Podría dar más detalles?", Score: 0.1},
	{Text: "Voy a revisarlo y le respondo en breve.", Score: 0.1},
}

// Suggest returns up to limit ranked suggestions for the next reply in
// a conversation.
func (s *Service) Suggest(ctx context.Context, conversationID, ownerID uuid.UUID, limit int) []Suggestion {
	if limit <= 0 {
		limit = 3
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	templates, err := s.templates.ListByOwner(ctx, ownerID, "")
	if err != nil {
		logger.Log.Debug("suggestion template lookup failed", zap.Error(err))
		return trim(fallback, limit)
	}

	recent, _, err := s.messages.ListByConversation(conversationID, 20, nil)
	if err != nil {
		logger.Log.Debug("suggestion history lookup failed", zap.Error(err))
		recent = nil
	}

	terms := recentTerms(recent)

	suggestions := make([]Suggestion, 0, len(templates))
	for _, t := range templates {
		id := t.TemplateID
		suggestions = append(suggestions, Suggestion{
			TemplateID: &id,
			Text:       t.Body,
			Score:      score(t, terms),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	if len(suggestions) == 0 {
		return trim(fallback, limit)
	}
	return trim(suggestions, limit)
}

func trim(s []Suggestion, limit int) []Suggestion {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

// recentTerms tokenizes the last few readable messages.
func recentTerms(messages []*domain.Message) map[string]int {
	terms := make(map[string]int)
	for _, m := range messages {
		if m.Deleted || m.Content == "" || m.Type == domain.MessageTypeSystem {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(m.Content)) {
			word = strings.Trim(word, ".,;:!?¿¡()\"'")
			if len(word) < 4 {
				continue
			}
			terms[word]++
		}
	}
	return terms
}

// score counts term overlap between a template and recent history.
func score(t *domain.MessageTemplate, terms map[string]int) float64 {
	var total float64
	for _, word := range strings.Fields(strings.ToLower(t.Label + " " + t.Body)) {
		word = strings.Trim(word, ".,;:!?¿¡()\"'")
		if n, ok := terms[word]; ok {
			total += float64(n)
		}
	}
	return total
}
