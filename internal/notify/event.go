// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package notify delivers backup lifecycle events to configured sinks:
// structured log, webhook, and NATS JetStream. Delivery is advisory. A sink
// failure is logged and counted but never fails the operation that raised
// the event.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the lifecycle events the engine emits.
type EventType string

const (
	EventBackupStarted       EventType = "backup_started"
	EventBackupCompleted     EventType = "backup_completed"
	EventBackupFailed        EventType = "backup_failed"
	EventRestoreStarted      EventType = "restore_started"
	EventRestoreCompleted    EventType = "restore_completed"
	EventRestoreFailed       EventType = "restore_failed"
	EventBackupScheduled     EventType = "backup_scheduled"
	EventBackupReminder      EventType = "backup_reminder"
	EventStorageWarning      EventType = "storage_warning"
	EventHealthStatusChanged EventType = "health_status_changed"
)

// Severity classifies an event for sink-side filtering and display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one backup lifecycle notification.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh id and the current time. Subject
// names the entity the event concerns, typically a backup or schedule id.
func NewEvent(eventType EventType, severity Severity, subject, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Message:   message,
	}
}

// WithMetadata attaches a key/value pair, allocating the map lazily.
func (e Event) WithMetadata(key, value string) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
