// Package audit keeps a trail of clinically sensitive actions: who
// touched which conversation, session, or attachment, and whether it
// worked. Events land in day-partitioned Redis lists with a 90-day
// retention.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mediconnect-backend/pkg/constants"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Conversation events
	EventConversationCreate     AuditEventType = "conversation_create"
	EventConversationDeactivate AuditEventType = "conversation_deactivate"
	EventParticipantAdd         AuditEventType = "participant_add"
	EventMessageDelete          AuditEventType = "message_delete"

	// Session events
	EventSessionCreate   AuditEventType = "session_create"
	EventSessionEscalate AuditEventType = "session_escalate"
	EventConsentChange   AuditEventType = "consent_change"
	EventCaptureStart    AuditEventType = "capture_start"
	EventCaptureStop     AuditEventType = "capture_stop"

	// Escalation events
	EventEscalationRuleChange AuditEventType = "escalation_rule_change"
	EventEscalationResolve    AuditEventType = "escalation_resolve"

	// Attachment events
	EventAttachmentUpload AuditEventType = "attachment_upload"
	EventAttachmentDelete AuditEventType = "attachment_delete"

	// Generic mutating API call, captured by the audit middleware
	EventAPIMutation AuditEventType = "api_mutation"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	EventType AuditEventType `json:"event_type"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Success   bool           `json:"success"`
	ErrorCode string         `json:"error_code,omitempty"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLogger handles audit logging
type AuditLogger struct {
	redisClient *redis.Client
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(redisClient *redis.Client) *AuditLogger {
	return &AuditLogger{
		redisClient: redisClient,
	}
}

// Log logs an audit event
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = time.Now().UTC()

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	// Day-partitioned list so expiry trims whole days at once
	key := fmt.Sprintf("audit:events:%s", event.Timestamp.Format("2006-01-02"))

	if err := al.redisClient.LPush(ctx, key, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	if err := al.redisClient.Expire(ctx, key, constants.AuditLogRetention).Err(); err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}

	return nil
}

// LogMutation logs one mutating API call observed by the middleware.
func (al *AuditLogger) LogMutation(ctx context.Context, userID *uuid.UUID, method, path, ipAddress, userAgent string, statusCode int) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    userID,
		EventType: EventAPIMutation,
		Resource:  path,
		Action:    method,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   statusCode < 400,
		ErrorCode: errorCodeFor(statusCode),
	})
}

// LogConsentChange logs a recording/transcript consent update.
func (al *AuditLogger) LogConsentChange(ctx context.Context, userID, sessionID uuid.UUID, details string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventConsentChange,
		Resource:  sessionID.String(),
		Success:   true,
		Details:   details,
	})
}

// LogSessionEscalate logs an emergency escalation of a session.
func (al *AuditLogger) LogSessionEscalate(ctx context.Context, userID, sessionID uuid.UUID, reason string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventSessionEscalate,
		Resource:  sessionID.String(),
		Success:   true,
		Details:   reason,
	})
}

// LogEscalationResolve logs who resolved an escalation event.
func (al *AuditLogger) LogEscalationResolve(ctx context.Context, userID, escalationEventID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventEscalationResolve,
		Resource:  escalationEventID.String(),
		Success:   true,
	})
}

// LogMessageDelete logs a message soft-deletion.
func (al *AuditLogger) LogMessageDelete(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventMessageDelete,
		Resource:  conversationID.String(),
		Details:   messageID.String(),
		Success:   true,
	})
}

// LogAttachmentDelete logs an attachment removal.
func (al *AuditLogger) LogAttachmentDelete(ctx context.Context, userID, attachmentID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventAttachmentDelete,
		Resource:  attachmentID.String(),
		Success:   true,
	})
}

// GetEvents retrieves audit events for a user
func (al *AuditLogger) GetEvents(ctx context.Context, userID uuid.UUID, limit int, offset int) ([]*AuditEvent, error) {
	return al.scan(ctx, limit, offset, func(event *AuditEvent) bool {
		return event.UserID != nil && *event.UserID == userID
	})
}

// GetEventsByType retrieves audit events by type
func (al *AuditLogger) GetEventsByType(ctx context.Context, eventType AuditEventType, limit int, offset int) ([]*AuditEvent, error) {
	return al.scan(ctx, limit, offset, func(event *AuditEvent) bool {
		return event.EventType == eventType
	})
}

// scan walks the day-partitioned lists newest first, applying a filter.
func (al *AuditLogger) scan(ctx context.Context, limit, offset int, match func(*AuditEvent) bool) ([]*AuditEvent, error) {
	now := time.Now().UTC()

	var events []*AuditEvent
	for i := 0; i < 90 && len(events) < limit; i++ {
		date := now.AddDate(0, 0, -i)
		key := fmt.Sprintf("audit:events:%s", date.Format("2006-01-02"))

		members, err := al.redisClient.LRange(ctx, key, int64(offset), int64(offset+limit)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get audit events: %w", err)
		}

		for _, member := range members {
			var event AuditEvent
			if err := json.Unmarshal([]byte(member), &event); err != nil {
				continue
			}
			if match(&event) {
				events = append(events, &event)
				if len(events) >= limit {
					break
				}
			}
		}
	}

	return events, nil
}

func errorCodeFor(statusCode int) string {
	if statusCode < 400 {
		return ""
	}
	return fmt.Sprintf("HTTP_%d", statusCode)
}
