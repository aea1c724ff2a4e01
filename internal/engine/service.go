// Package engine composes session lifecycle, conflict detection, and
// conflict recording into the end-to-end synchronization flow.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/session"
)

var (
	// ErrNoChanges is returned when a change batch is empty
	ErrNoChanges = errors.New("change batch cannot be empty")
)

// ChangeItem is one client-submitted entity change
type ChangeItem = conflict.ClientItem

// Service orchestrates the sync flow across the session and conflict services
type Service struct {
	sessions        *session.Service
	conflicts       *conflict.Service
	versions        VersionResolver
	defaultStrategy conflict.Strategy
	logger          *loggy.Logger
}

// NewService creates a new orchestrator service
func NewService(
	sessions *session.Service,
	conflicts *conflict.Service,
	versions VersionResolver,
	defaultStrategy conflict.Strategy,
	logger *loggy.Logger,
) *Service {
	if defaultStrategy == "" {
		defaultStrategy = conflict.StrategyServerWins
	}

	return &Service{
		sessions:        sessions,
		conflicts:       conflicts,
		versions:        versions,
		defaultStrategy: defaultStrategy,
		logger:          logger,
	}
}

// ApplyChanges runs conflict detection over a change batch, persists a
// conflict record per collision, and completes the session with the derived
// counters. Conflicts do not prevent completion: they are tracked as pending
// items attached to a completed session.
//
// Callers using this directly are responsible for failing the session when
// it errors; PerformFullSync wraps it with that compensation.
func (s *Service) ApplyChanges(ctx context.Context, sessionID string, changes []ChangeItem, strategy conflict.Strategy) (*session.SyncSession, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(changes) == 0 {
		return nil, ErrNoChanges
	}

	if sess.Status != session.StatusStarted {
		return nil, fmt.Errorf("%w: status is %s", session.ErrSessionFinished, sess.Status)
	}

	if strategy == "" {
		strategy = s.defaultStrategy
	} else {
		parsed, err := conflict.ParseStrategy(string(strategy))
		if err != nil {
			return nil, err
		}
		strategy = parsed
	}

	// Resolve authoritative versions for the referenced entities
	refs := make([]EntityRef, len(changes))
	for i, change := range changes {
		refs[i] = EntityRef{EntityType: change.EntityType, EntityID: change.EntityID}
	}

	serverState, err := s.versions.ResolveVersions(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("resolving server versions: %w", err)
	}

	serverVersions := make(map[string]int64, len(serverState))
	for id, sv := range serverState {
		serverVersions[id] = sv.Version
	}

	conflicts := conflict.DetectConflicts(changes, serverVersions)

	for i := range conflicts {
		// Attach the server-side data snapshot the detector does not see
		conflicts[i].ServerData = serverState[conflicts[i].EntityID].Data

		if _, err := s.conflicts.RecordConflict(ctx, sess.ID, conflicts[i], strategy); err != nil {
			return nil, fmt.Errorf("recording conflict for %s %s: %w",
				conflicts[i].EntityType, conflicts[i].EntityID, err)
		}
	}

	// Download is a separate concern; this operation only uploads
	uploaded := len(changes) - len(conflicts)

	completed, err := s.sessions.Complete(ctx, sess.ID, uploaded, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Applied change batch",
		"session_id", completed.ID,
		"device_id", completed.DeviceID,
		"submitted", len(changes),
		"uploaded", uploaded,
		"conflicts", len(conflicts),
	)

	return completed, nil
}

// PerformFullSync composes Initiate and ApplyChanges. When change
// application fails, the session is transitioned to failed with the
// failure's message so no session is left in the started state forever.
// Compensation is best-effort: if the Fail transition itself errors, the
// original failure is still the one returned to the caller.
func (s *Service) PerformFullSync(ctx context.Context, input session.InitiateInput, changes []ChangeItem, strategy conflict.Strategy) (*session.SyncSession, error) {
	sess, err := s.sessions.Initiate(ctx, input)
	if err != nil {
		// No session exists yet, nothing to compensate
		return nil, err
	}

	completed, err := s.ApplyChanges(ctx, sess.ID, changes, strategy)
	if err != nil {
		if _, failErr := s.sessions.Fail(ctx, sess.ID, err.Error()); failErr != nil {
			s.logger.Error("Failed to compensate sync session",
				"session_id", sess.ID,
				"apply_error", err,
				"fail_error", failErr,
			)
		}
		return nil, err
	}

	return completed, nil
}
