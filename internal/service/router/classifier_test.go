package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediconnect-backend/internal/domain"
)

func TestMarkerClassifier(t *testing.T) {
	classifier := NewMarkerClassifier([]string{"🚨", "EMERGENCIA", "EMERGENCY"})

	tests := []struct {
		name      string
		content   string
		requested domain.Priority
		want      domain.Priority
	}{
		{"plain text stays as requested", "Hola", domain.PriorityNormal, domain.PriorityNormal},
		{"high priority preserved", "resultados listos", domain.PriorityHigh, domain.PriorityHigh},
		{"emoji marker forces emergency", "🚨 EMERGENCIA: ayuda", domain.PriorityNormal, domain.PriorityEmergency},
		{"word marker case-insensitive", "esto es una emergencia", domain.PriorityLow, domain.PriorityEmergency},
		{"english marker", "EMERGENCY please respond", domain.PriorityNormal, domain.PriorityEmergency},
		{"marker mid-sentence", "llama si hay emergencia medica", domain.PriorityNormal, domain.PriorityEmergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Classify(tt.content, tt.requested))
		})
	}
}

func TestMarkerClassifierIgnoresBlankMarkers(t *testing.T) {
	classifier := NewMarkerClassifier([]string{" ", "", "🚨"})

	assert.Equal(t, domain.PriorityNormal, classifier.Classify("hello", domain.PriorityNormal))
	assert.Equal(t, domain.PriorityEmergency, classifier.Classify("🚨", domain.PriorityNormal))
}
