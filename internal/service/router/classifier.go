package router

import (
	"strings"

	"mediconnect-backend/internal/domain"
)

// Classifier decides the effective priority of an outgoing message.
// The classified priority can only raise the caller's requested one,
// never lower it.
type Classifier interface {
	Classify(content string, requested domain.Priority) domain.Priority
}

// MarkerClassifier scans message content for configured emergency
// markers ("🚨", "EMERGENCIA", ...). A hit forces emergency priority
// regardless of what the sender asked for; the match is
// case-insensitive on the marker text.
type MarkerClassifier struct {
	markers []string
}

// NewMarkerClassifier creates a classifier from the configured marker
// list. Markers are matched as substrings.
func NewMarkerClassifier(markers []string) *MarkerClassifier {
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		normalized = append(normalized, strings.ToLower(m))
	}
	return &MarkerClassifier{markers: normalized}
}

// Classify returns emergency when the content carries a marker,
// otherwise the requested priority unchanged.
func (c *MarkerClassifier) Classify(content string, requested domain.Priority) domain.Priority {
	lowered := strings.ToLower(content)
	for _, marker := range c.markers {
		if strings.Contains(lowered, marker) {
			return domain.PriorityEmergency
		}
	}
	return requested
}
