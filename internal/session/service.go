package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/notify"
)

// ConflictCounter reports conflict record counts owned by another component.
// It is satisfied by the conflict service.
type ConflictCounter interface {
	// CountUnresolved counts unresolved conflict records system-wide
	CountUnresolved(ctx context.Context) (int, error)

	// CountBySession counts conflict records accumulated on one session
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// InitiateInput carries the inputs for starting a sync session
type InitiateInput struct {
	DeviceID       string          `json:"device_id"`
	UserID         string          `json:"user_id"`
	LastSyncDate   *time.Time      `json:"last_sync_date,omitempty"`
	DeviceMetadata json.RawMessage `json:"device_metadata,omitempty"`
}

// Service provides sync session lifecycle operations
type Service struct {
	repo      Repository
	conflicts ConflictCounter
	sink      notify.Sink
	logger    *loggy.Logger
}

// NewService creates a new session service
func NewService(repo Repository, conflicts ConflictCounter, sink notify.Sink, logger *loggy.Logger) *Service {
	return &Service{
		repo:      repo,
		conflicts: conflicts,
		sink:      sink,
		logger:    logger,
	}
}

// GetRepository returns the repository implementation
func (s *Service) GetRepository() Repository {
	return s.repo
}

// Initiate starts a new sync session for a device. Concurrent sessions for
// the same device are permitted at this layer; exclusivity, when a deployment
// needs it, belongs to the caller or a storage constraint.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (*SyncSession, error) {
	session, err := New(input.DeviceID, input.UserID, input.DeviceMetadata)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("saving sync session: %w", err)
	}

	s.logger.Info("Sync session started",
		"session_id", session.ID,
		"device_id", session.DeviceID,
		"user_id", session.UserID,
	)

	s.publish(ctx, session, notify.EventSyncStarted)

	return session, nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(ctx context.Context, id string) (*SyncSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session id cannot be empty", ErrInvalidInput)
	}
	return s.repo.GetSessionByID(ctx, id)
}

// Complete transitions a started session to completed with the final
// counters. The conflict counter is read from the records accumulated on the
// session during change application.
func (s *Service) Complete(ctx context.Context, sessionID string, uploaded, downloaded int) (*SyncSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.conflicts.CountBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("counting session conflicts: %w", err)
	}

	if err := session.Complete(uploaded, downloaded, conflicts); err != nil {
		return nil, err
	}

	if err := s.repo.FinishSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("Sync session completed",
		"session_id", session.ID,
		"device_id", session.DeviceID,
		"uploaded", session.UploadedRecords,
		"downloaded", session.DownloadedRecords,
		"conflicts", session.ConflictRecords,
		"duration_seconds", session.DurationSeconds(),
	)

	s.publish(ctx, session, notify.EventSyncCompleted)

	return session, nil
}

// Fail transitions a started session to failed with the given error message
func (s *Service) Fail(ctx context.Context, sessionID, errorMessage string) (*SyncSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := session.Fail(errorMessage); err != nil {
		return nil, err
	}

	if err := s.repo.FinishSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Warn("Sync session failed",
		"session_id", session.ID,
		"device_id", session.DeviceID,
		"error_message", session.ErrorMessage,
	)

	s.publish(ctx, session, notify.EventSyncFailed)

	return session, nil
}

// GetStatus reports the sync status for a device. Pending changes are
// approximated by the count of failed sessions, and the conflict count is
// system-wide rather than scoped to the device.
func (s *Service) GetStatus(ctx context.Context, deviceID string) (*StatusSummary, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id cannot be empty", ErrInvalidInput)
	}

	pending, err := s.repo.CountSessions(ctx, deviceID, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("counting failed sessions: %w", err)
	}

	latest, err := s.repo.GetLatestSessionByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("getting latest session: %w", err)
	}

	conflicts, err := s.conflicts.CountUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting unresolved conflicts: %w", err)
	}

	summary := &StatusSummary{
		PendingChanges: pending,
		Conflicts:      conflicts,
	}

	if latest != nil {
		if latest.EndDate != nil {
			summary.LastSyncDate = latest.EndDate
		} else {
			summary.LastSyncDate = &latest.StartDate
		}
	}

	return summary, nil
}

// GetHistory retrieves sessions matching the filter, paginated
func (s *Service) GetHistory(ctx context.Context, filter HistoryFilter, params PaginationParams) ([]*SyncSession, error) {
	sessions, err := s.repo.ListSessions(ctx, filter, params)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// FailStale force-fails sessions stuck in the started state beyond the age
// threshold. It is a reconciliation sweep for devices that went offline
// mid-sync and never sent a terminal call. Returns the number of sessions
// transitioned.
func (s *Service) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	stale, err := s.repo.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale sessions: %w", err)
	}

	failed := 0
	for _, session := range stale {
		if _, err := s.Fail(ctx, session.ID, fmt.Sprintf("session exceeded stale age threshold of %s", olderThan)); err != nil {
			// Another writer may have finished the session in the meantime
			s.logger.Warn("Failed to sweep stale session", "session_id", session.ID, "error", err)
			continue
		}
		failed++
	}

	return failed, nil
}

// publish emits a lifecycle event. Delivery failures are logged, never
// surfaced: the persistence step already succeeded and must not be undone
// by a flaky sink.
func (s *Service) publish(ctx context.Context, session *SyncSession, eventType notify.EventType) {
	event := notify.NewEvent(eventType)
	event.SessionID = session.ID
	event.DeviceID = session.DeviceID

	payload, err := json.Marshal(session)
	if err == nil {
		event.Payload = payload
	}

	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish sync event",
			"event_type", eventType,
			"session_id", session.ID,
			"error", err,
		)
	}
}
