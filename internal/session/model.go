// Package session manages the lifecycle of synchronization sessions: one
// bounded attempt by a field device to upload locally-made changes to the
// server of record.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

var (
	// ErrSessionNotFound is returned when a sync session does not exist
	ErrSessionNotFound = errors.New("sync session not found")

	// ErrSessionFinished is returned when an operation requires a session
	// that is still in the started state
	ErrSessionFinished = errors.New("sync session already finished")

	// ErrInvalidInput is returned for malformed or missing operation input
	ErrInvalidInput = errors.New("invalid input")
)

// Status represents the lifecycle state of a sync session
type Status string

const (
	// StatusStarted indicates the session is in progress
	StatusStarted Status = "started"
	// StatusCompleted indicates the session finished successfully
	StatusCompleted Status = "completed"
	// StatusFailed indicates the session finished with an error
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status permits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SyncSession represents one synchronization attempt by a device.
// Sessions are created in the started state and transition exactly once,
// to completed or failed. They are never deleted.
type SyncSession struct {
	ID                string          `json:"id"`
	DeviceID          string          `json:"device_id"`
	UserID            string          `json:"user_id"`
	Status            Status          `json:"status"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	UploadedRecords   int             `json:"uploaded_records"`
	DownloadedRecords int             `json:"downloaded_records"`
	ConflictRecords   int             `json:"conflict_records"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	DeviceMetadata    json.RawMessage `json:"device_metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// New creates a sync session in the started state
func New(deviceID, userID string, metadata json.RawMessage) (*SyncSession, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}

	now := time.Now()
	return &SyncSession{
		ID:             ulid.SessionID(),
		DeviceID:       strings.TrimSpace(deviceID),
		UserID:         strings.TrimSpace(userID),
		Status:         StatusStarted,
		StartDate:      now,
		DeviceMetadata: metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Complete marks the session as completed with the final counters.
// The end date and derived duration are set exactly once here.
func (s *SyncSession) Complete(uploaded, downloaded, conflicts int) error {
	if s.Status != StatusStarted {
		return fmt.Errorf("%w: status is %s", ErrSessionFinished, s.Status)
	}
	if uploaded < 0 {
		return fmt.Errorf("%w: uploaded records cannot be negative", ErrInvalidInput)
	}
	if downloaded < 0 {
		return fmt.Errorf("%w: downloaded records cannot be negative", ErrInvalidInput)
	}

	now := time.Now()
	s.Status = StatusCompleted
	s.EndDate = &now
	s.UploadedRecords = uploaded
	s.DownloadedRecords = downloaded
	s.ConflictRecords = conflicts
	s.UpdatedAt = now
	return nil
}

// Fail marks the session as failed with the given error message
func (s *SyncSession) Fail(errorMessage string) error {
	if s.Status != StatusStarted {
		return fmt.Errorf("%w: status is %s", ErrSessionFinished, s.Status)
	}

	msg := strings.TrimSpace(errorMessage)
	if msg == "" {
		return fmt.Errorf("%w: error message cannot be empty", ErrInvalidInput)
	}

	now := time.Now()
	s.Status = StatusFailed
	s.EndDate = &now
	s.ErrorMessage = msg
	s.UpdatedAt = now
	return nil
}

// DurationSeconds returns the session duration in whole seconds.
// It is zero until the session reaches a terminal state.
func (s *SyncSession) DurationSeconds() int64 {
	if s.EndDate == nil {
		return 0
	}
	return int64(s.EndDate.Sub(s.StartDate).Seconds())
}

// StatusSummary is the device-facing sync status report.
// PendingChanges approximates unsynced work from failed session counts, and
// Conflicts counts unresolved conflict records system-wide, not per device.
type StatusSummary struct {
	PendingChanges int        `json:"pending_changes"`
	LastSyncDate   *time.Time `json:"last_sync_date,omitempty"`
	Conflicts      int        `json:"conflicts"`
}

// HistoryFilter restricts a session history query.
// Zero-valued fields are ignored.
type HistoryFilter struct {
	DeviceID string
	UserID   string
	Status   Status
	From     time.Time
	To       time.Time
}

// PaginationParams defines parameters for paginated queries
type PaginationParams struct {
	Page  int
	Limit int
}

// NewPaginationParams creates a new PaginationParams instance with default values
func NewPaginationParams(page, limit int) PaginationParams {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20 // Default to 20 items per page
	}
	if limit > 100 {
		limit = 100 // Cap at 100 items per page
	}
	return PaginationParams{
		Page:  page,
		Limit: limit,
	}
}

// Offset returns the row offset for 1-based page numbers
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}
