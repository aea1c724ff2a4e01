// Package conflict provides detection, recording, and resolution of version
// collisions between client-submitted changes and the server of record.
package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

var (
	// ErrConflictNotFound is returned when a conflict record does not exist
	ErrConflictNotFound = errors.New("conflict record not found")

	// ErrConflictResolved is returned when resolving an already-resolved record
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrInvalidStrategy is returned for an unrecognized resolution strategy
	ErrInvalidStrategy = errors.New("invalid resolution strategy")

	// ErrManualResolution is returned when a strategy cannot pick a winner
	// automatically and requires operator intervention
	ErrManualResolution = errors.New("strategy requires manual resolution")

	// ErrInvalidInput is returned for malformed or missing operation input
	ErrInvalidInput = errors.New("invalid input")
)

// Strategy represents the policy used to pick a winner between server and
// client data for a conflicting entity
type Strategy string

const (
	// StrategyServerWins keeps the server's data
	StrategyServerWins Strategy = "server_wins"
	// StrategyClientWins keeps the client's data
	StrategyClientWins Strategy = "client_wins"
	// StrategyAdminDecides defers the decision to an administrator
	StrategyAdminDecides Strategy = "admin_decides"
	// StrategyMerge requests a field-level merge, which is not automatically
	// resolvable
	StrategyMerge Strategy = "merge"
)

// Strategies lists all valid resolution strategies
func Strategies() []Strategy {
	return []Strategy{StrategyServerWins, StrategyClientWins, StrategyAdminDecides, StrategyMerge}
}

// ParseStrategy validates a strategy string. Unrecognized values are rejected
// at the boundary so they cannot silently fall through the resolver.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch strategy {
	case StrategyServerWins, StrategyClientWins, StrategyAdminDecides, StrategyMerge:
		return strategy, nil
	default:
		return "", fmt.Errorf("%w: %q (valid values: %s, %s, %s, %s)",
			ErrInvalidStrategy, s,
			StrategyServerWins, StrategyClientWins, StrategyAdminDecides, StrategyMerge)
	}
}

// ConflictRecord represents one detected version collision for a single
// entity, owned by the sync session that detected it. Records are mutated at
// most once, by manual resolution, and never deleted.
type ConflictRecord struct {
	ID                 string          `json:"id"`
	SyncSessionID      string          `json:"sync_session_id"`
	EntityType         string          `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	ServerVersion      int64           `json:"server_version"`
	ServerData         json.RawMessage `json:"server_data,omitempty"`
	ClientVersion      int64           `json:"client_version"`
	ClientData         json.RawMessage `json:"client_data,omitempty"`
	ResolutionStrategy Strategy        `json:"resolution_strategy"`
	ResolvedBy         string          `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NewRecord creates a conflict record for a detected conflict
func NewRecord(sessionID string, c Conflict, strategy Strategy) (*ConflictRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id cannot be empty", ErrInvalidInput)
	}
	parsed, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, err
	}

	return &ConflictRecord{
		ID:                 ulid.ConflictID(),
		SyncSessionID:      sessionID,
		EntityType:         c.EntityType,
		EntityID:           c.EntityID,
		ServerVersion:      c.ServerVersion,
		ServerData:         c.ServerData,
		ClientVersion:      c.ClientVersion,
		ClientData:         c.ClientData,
		ResolutionStrategy: parsed,
		CreatedAt:          time.Now(),
	}, nil
}

// IsResolved reports whether the record has been resolved
func (r *ConflictRecord) IsResolved() bool {
	return r.ResolvedAt != nil
}

// Resolve marks the record as resolved with the given strategy and user.
// Resolution happens at most once.
func (r *ConflictRecord) Resolve(strategy Strategy, resolvedBy string) error {
	if r.IsResolved() {
		return ErrConflictResolved
	}
	if strings.TrimSpace(resolvedBy) == "" {
		return fmt.Errorf("%w: resolved by cannot be empty", ErrInvalidInput)
	}
	parsed, err := ParseStrategy(string(strategy))
	if err != nil {
		return err
	}

	now := time.Now()
	r.ResolutionStrategy = parsed
	r.ResolvedBy = strings.TrimSpace(resolvedBy)
	r.ResolvedAt = &now
	return nil
}
