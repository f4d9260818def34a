package logger

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/scimgate/scimgate/pkg/journal"
)

// AuditEvent represents an audit log event
type AuditEvent struct {
	EventType  string         `json:"event_type"`
	Actor      string         `json:"actor"` // SCIM client that performed the action
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Status     string         `json:"status"` // success, failure
	Reason     string         `json:"reason,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AuditLogger records provisioning actions for compliance trails
type AuditLogger struct {
	logger  *zap.Logger
	journal journal.Journal
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// WithJournal tees every audit event into an append-only journal in
// addition to the structured log stream
func (a *AuditLogger) WithJournal(j journal.Journal) *AuditLogger {
	a.journal = j
	return a
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if a.journal != nil {
		if record, err := json.Marshal(event); err == nil {
			if err := a.journal.Append(record); err != nil {
				a.logger.Error("Failed to append audit journal record", zap.Error(err))
			}
		}
	}

	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.Status == "failure" {
		a.logger.Warn("AUDIT", fields...)
		return
	}
	a.logger.Info("AUDIT", fields...)
}

// LogResourceCreated records a provisioned resource creation
func (a *AuditLogger) LogResourceCreated(actor, resource, resourceID string, metadata map[string]any) {
	a.Log(&AuditEvent{
		EventType:  "provisioning.create",
		Actor:      actor,
		Action:     "create",
		Resource:   resource,
		ResourceID: resourceID,
		Status:     "success",
		Metadata:   metadata,
	})
}

// LogResourceModified records a PUT or PATCH mutation
func (a *AuditLogger) LogResourceModified(actor, resource, resourceID string, metadata map[string]any) {
	a.Log(&AuditEvent{
		EventType:  "provisioning.modify",
		Actor:      actor,
		Action:     "modify",
		Resource:   resource,
		ResourceID: resourceID,
		Status:     "success",
		Metadata:   metadata,
	})
}

// LogResourceDeleted records a deprovisioning
func (a *AuditLogger) LogResourceDeleted(actor, resource, resourceID string) {
	a.Log(&AuditEvent{
		EventType:  "provisioning.delete",
		Actor:      actor,
		Action:     "delete",
		Resource:   resource,
		ResourceID: resourceID,
		Status:     "success",
	})
}

// LogRequestRejected records a request that failed validation or authorization
func (a *AuditLogger) LogRequestRejected(actor, resource, resourceID, reason string) {
	a.Log(&AuditEvent{
		EventType:  "provisioning.reject",
		Actor:      actor,
		Action:     "reject",
		Resource:   resource,
		ResourceID: resourceID,
		Status:     "failure",
		Reason:     reason,
	})
}
