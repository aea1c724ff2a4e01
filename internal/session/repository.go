package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Repository defines the interface for sync session persistence operations
type Repository interface {
	// CreateSession saves a new sync session
	CreateSession(ctx context.Context, session *SyncSession) error

	// GetSessionByID retrieves a session by its ID
	GetSessionByID(ctx context.Context, id string) (*SyncSession, error)

	// ListSessions retrieves sessions matching the filter, most recent first
	ListSessions(ctx context.Context, filter HistoryFilter, params PaginationParams) ([]*SyncSession, error)

	// CountSessions counts sessions for a device with the given status
	CountSessions(ctx context.Context, deviceID string, status Status) (int, error)

	// GetLatestSessionByDevice retrieves the most recent session for a device,
	// or nil when the device has never synced
	GetLatestSessionByDevice(ctx context.Context, deviceID string) (*SyncSession, error)

	// ListStaleSessions retrieves started sessions older than the cutoff
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*SyncSession, error)

	// FinishSession persists a terminal transition. The update is conditional
	// on the stored status still being started, so concurrent writers racing
	// on the same session id cannot both win.
	FinishSession(ctx context.Context, session *SyncSession) error
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var sessionColumns = []string{
	"id", "device_id", "user_id", "status", "start_date", "end_date",
	"uploaded_records", "downloaded_records", "conflict_records",
	"error_message", "device_metadata", "created_at", "updated_at",
}

// CreateSession saves a new sync session
func (r *SQLRepository) CreateSession(ctx context.Context, session *SyncSession) error {
	query, args, err := r.builder.
		Insert("sync_sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.DeviceID,
			session.UserID,
			session.Status,
			session.StartDate,
			session.EndDate,
			session.UploadedRecords,
			session.DownloadedRecords,
			session.ConflictRecords,
			nullString(session.ErrorMessage),
			nullBytes(session.DeviceMetadata),
			session.CreatedAt,
			session.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create session query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing create session query: %w", err)
	}

	return nil
}

// GetSessionByID retrieves a session by its ID
func (r *SQLRepository) GetSessionByID(ctx context.Context, id string) (*SyncSession, error) {
	query, args, err := r.builder.
		Select(sessionColumns...).
		From("sync_sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get session query: %w", err)
	}

	session, err := r.scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("executing get session query: %w", err)
	}

	return session, nil
}

// ListSessions retrieves sessions matching the filter, most recent first
func (r *SQLRepository) ListSessions(ctx context.Context, filter HistoryFilter, params PaginationParams) ([]*SyncSession, error) {
	q := r.builder.
		Select(sessionColumns...).
		From("sync_sessions").
		OrderBy("start_date DESC")

	if filter.DeviceID != "" {
		q = q.Where(sq.Eq{"device_id": filter.DeviceID})
	}
	if filter.UserID != "" {
		q = q.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if !filter.From.IsZero() {
		q = q.Where(sq.GtOrEq{"start_date": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(sq.LtOrEq{"start_date": filter.To})
	}

	q = q.Limit(uint64(params.Limit)).Offset(uint64(params.Offset()))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sessions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sessions query: %w", err)
	}
	defer rows.Close()

	var sessions []*SyncSession
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// CountSessions counts sessions for a device with the given status
func (r *SQLRepository) CountSessions(ctx context.Context, deviceID string, status Status) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From("sync_sessions").
		Where(sq.Eq{"device_id": deviceID, "status": status}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count sessions query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count sessions query: %w", err)
	}

	return count, nil
}

// GetLatestSessionByDevice retrieves the most recent session for a device
func (r *SQLRepository) GetLatestSessionByDevice(ctx context.Context, deviceID string) (*SyncSession, error) {
	query, args, err := r.builder.
		Select(sessionColumns...).
		From("sync_sessions").
		Where(sq.Eq{"device_id": deviceID}).
		OrderBy("start_date DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building latest session query: %w", err)
	}

	session, err := r.scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No session found
		}
		return nil, fmt.Errorf("executing latest session query: %w", err)
	}

	return session, nil
}

// ListStaleSessions retrieves started sessions older than the cutoff
func (r *SQLRepository) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*SyncSession, error) {
	query, args, err := r.builder.
		Select(sessionColumns...).
		From("sync_sessions").
		Where(sq.Eq{"status": StatusStarted}).
		Where(sq.Lt{"start_date": cutoff}).
		OrderBy("start_date ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stale sessions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing stale sessions query: %w", err)
	}
	defer rows.Close()

	var sessions []*SyncSession
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale session rows: %w", err)
	}

	return sessions, nil
}

// FinishSession persists a terminal transition with a conditional update
func (r *SQLRepository) FinishSession(ctx context.Context, session *SyncSession) error {
	if !session.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot persist non-terminal status %s", ErrInvalidInput, session.Status)
	}

	query, args, err := r.builder.
		Update("sync_sessions").
		Set("status", session.Status).
		Set("end_date", session.EndDate).
		Set("uploaded_records", session.UploadedRecords).
		Set("downloaded_records", session.DownloadedRecords).
		Set("conflict_records", session.ConflictRecords).
		Set("error_message", nullString(session.ErrorMessage)).
		Set("updated_at", session.UpdatedAt).
		Where(sq.Eq{"id": session.ID, "status": StatusStarted}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building finish session query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing finish session query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking finish session result: %w", err)
	}

	if affected == 0 {
		// Either the session never existed or another writer finished it first.
		if _, err := r.GetSessionByID(ctx, session.ID); err != nil {
			return err
		}
		return ErrSessionFinished
	}

	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanSession(row rowScanner) (*SyncSession, error) {
	var (
		session      SyncSession
		endDate      sql.NullTime
		errorMessage sql.NullString
		metadata     sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.DeviceID,
		&session.UserID,
		&session.Status,
		&session.StartDate,
		&endDate,
		&session.UploadedRecords,
		&session.DownloadedRecords,
		&session.ConflictRecords,
		&errorMessage,
		&metadata,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endDate.Valid {
		session.EndDate = &endDate.Time
	}
	if errorMessage.Valid {
		session.ErrorMessage = errorMessage.String
	}
	if metadata.Valid && metadata.String != "" {
		session.DeviceMetadata = []byte(metadata.String)
	}

	return &session, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
