package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/notify"
)

// Service provides conflict record operations
type Service struct {
	repo   Repository
	sink   notify.Sink
	logger *loggy.Logger
}

// NewService creates a new conflict service
func NewService(repo Repository, sink notify.Sink, logger *loggy.Logger) *Service {
	return &Service{
		repo:   repo,
		sink:   sink,
		logger: logger,
	}
}

// GetRepository returns the repository implementation
func (s *Service) GetRepository() Repository {
	return s.repo
}

// RecordConflict persists a detected conflict for a session and publishes a
// conflict.detected event
func (s *Service) RecordConflict(ctx context.Context, sessionID string, c Conflict, strategy Strategy) (*ConflictRecord, error) {
	record, err := NewRecord(sessionID, c, strategy)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("saving conflict record: %w", err)
	}

	s.logger.Info("Conflict detected",
		"conflict_id", record.ID,
		"session_id", record.SyncSessionID,
		"entity_type", record.EntityType,
		"entity_id", record.EntityID,
		"server_version", record.ServerVersion,
		"client_version", record.ClientVersion,
	)

	event := notify.NewEvent(notify.EventConflictDetected)
	event.SessionID = record.SyncSessionID
	event.EntityType = record.EntityType
	event.EntityID = record.EntityID
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish conflict event",
			"conflict_id", record.ID,
			"error", err,
		)
	}

	return record, nil
}

// GetRecord retrieves a conflict record by ID
func (s *Service) GetRecord(ctx context.Context, id string) (*ConflictRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: conflict id cannot be empty", ErrInvalidInput)
	}
	return s.repo.GetRecordByID(ctx, id)
}

// ResolveConflict manually resolves a conflict record. The strategy is
// validated at this boundary, the record must exist and be unresolved, and
// resolution happens at most once. Notes are optional free text attached to
// the resolution.
func (s *Service) ResolveConflict(ctx context.Context, conflictID, strategy, resolvedBy, notes string) (*ConflictRecord, error) {
	if strings.TrimSpace(conflictID) == "" {
		return nil, fmt.Errorf("%w: conflict id cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(resolvedBy) == "" {
		return nil, fmt.Errorf("%w: resolved by cannot be empty", ErrInvalidInput)
	}

	parsed, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetRecordByID(ctx, strings.TrimSpace(conflictID))
	if err != nil {
		return nil, err
	}

	if err := record.Resolve(parsed, resolvedBy); err != nil {
		return nil, err
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		record.Notes = notes
	}

	if err := s.repo.ResolveRecord(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Conflict resolved",
		"conflict_id", record.ID,
		"strategy", record.ResolutionStrategy,
		"resolved_by", record.ResolvedBy,
	)

	return record, nil
}

// ListUnresolved retrieves unresolved conflict records, scoped to one
// session when sessionID is non-empty, system-wide otherwise
func (s *Service) ListUnresolved(ctx context.Context, sessionID string) ([]*ConflictRecord, error) {
	records, err := s.repo.ListUnresolved(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved conflicts: %w", err)
	}
	return records, nil
}

// ListBySession retrieves all conflict records for a session
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]*ConflictRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id cannot be empty", ErrInvalidInput)
	}
	return s.repo.ListBySession(ctx, sessionID)
}

// CountUnresolved counts unresolved conflict records system-wide
func (s *Service) CountUnresolved(ctx context.Context) (int, error) {
	return s.repo.CountUnresolved(ctx)
}

// CountBySession counts conflict records accumulated on one session
func (s *Service) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return s.repo.CountBySession(ctx, sessionID)
}
