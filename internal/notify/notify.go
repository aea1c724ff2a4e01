// Package notify publishes sync lifecycle events to pluggable sinks
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

// EventType represents the type of sync event being published
type EventType string

const (
	// EventSyncStarted is published when a sync session is initiated
	EventSyncStarted EventType = "sync.started"
	// EventSyncCompleted is published when a sync session completes
	EventSyncCompleted EventType = "sync.completed"
	// EventSyncFailed is published when a sync session fails
	EventSyncFailed EventType = "sync.failed"
	// EventConflictDetected is published for each persisted conflict record
	EventConflictDetected EventType = "conflict.detected"
)

// Event is one sync lifecycle notification. Delivery is at-least-once from
// the engine's perspective: events are published after each successful
// persistence step, and sink durability is the sink's own concern.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an event with a fresh id and timestamp
func NewEvent(eventType EventType) Event {
	return Event{
		ID:         ulid.EventID(),
		Type:       eventType,
		OccurredAt: time.Now(),
	}
}

// Sink receives published sync events
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the application log. It is the default sink and
// never fails.
type LogSink struct {
	logger *loggy.Logger
}

// NewLogSink creates a new log-backed sink
func NewLogSink(logger *loggy.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the event
func (s *LogSink) Publish(ctx context.Context, event Event) error {
	s.logger.Info("Sync event",
		"event_id", event.ID,
		"type", event.Type,
		"session_id", event.SessionID,
		"device_id", event.DeviceID,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
	)
	return nil
}

// MultiSink fans an event out to several sinks. The first error is returned
// after all sinks have been attempted.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that publishes to all given sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish delivers the event to every sink
func (s *MultiSink) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
