package repository

import (
	"context"

	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
)

// AuditSink accepts append-only audit and security records.
type AuditSink interface {
	RecordOperation(ctx context.Context, entry *models.AuditEntry) error
	RecordSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

// logAuditSink writes records to the structured application log.
type logAuditSink struct{}

// NewLogAuditSink creates a sink that writes records through logrus
func NewLogAuditSink() AuditSink {
	return logAuditSink{}
}

func (logAuditSink) RecordOperation(_ context.Context, e *models.AuditEntry) error {
	fields := map[string]interface{}{
		"audit":     true,
		"audit_id":  e.Id,
		"timestamp": e.Timestamp,
		"user_id":   e.UserId,
		"operation": string(e.Operation),
		"success":   e.Success,
	}
	if e.ConfigurationId != "" {
		fields["config_id"] = e.ConfigurationId
	}
	if e.ServerName != "" {
		fields["server_name"] = e.ServerName
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = e.Metadata
	}

	entry := logger.WithFields(fields)
	if e.Success {
		entry.Info("MCP configuration operation")
	} else {
		entry.Warn("MCP configuration operation failed")
	}
	return nil
}

func (logAuditSink) RecordSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	logger.WithFields(map[string]interface{}{
		"security":  true,
		"audit_id":  e.Id,
		"timestamp": e.Timestamp,
		"user_id":   e.UserId,
		"url":       e.Url,
		"reason":    e.Reason,
	}).Warn("Blocked unsafe MCP server URL")
	return nil
}

// dynamoAuditSink writes records to the DynamoDB audit table.
type dynamoAuditSink struct {
	db *database.AuditLog
}

// NewDynamoAuditSink creates a DynamoDB-backed sink
func NewDynamoAuditSink(db *database.AuditLog) AuditSink {
	return &dynamoAuditSink{db: db}
}

func (s *dynamoAuditSink) RecordOperation(ctx context.Context, e *models.AuditEntry) error {
	return s.db.PutEntry(ctx, e)
}

func (s *dynamoAuditSink) RecordSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	return s.db.PutSecurityEvent(ctx, e)
}

// multiAuditSink fans records out to every sink. A failing sink is logged and
// does not stop the others.
type multiAuditSink struct {
	sinks []AuditSink
}

// NewMultiAuditSink combines sinks
func NewMultiAuditSink(sinks ...AuditSink) AuditSink {
	return &multiAuditSink{sinks: sinks}
}

func (m *multiAuditSink) RecordOperation(ctx context.Context, e *models.AuditEntry) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.RecordOperation(ctx, e); err != nil {
			logger.WithFields(map[string]interface{}{
				"audit_id": e.Id,
				"error":    err.Error(),
			}).Error("Failed to write audit entry")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *multiAuditSink) RecordSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.RecordSecurityEvent(ctx, e); err != nil {
			logger.WithFields(map[string]interface{}{
				"audit_id": e.Id,
				"error":    err.Error(),
			}).Error("Failed to write security event")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
