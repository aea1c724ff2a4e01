package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// Repository defines the interface for conflict record persistence operations
type Repository interface {
	// CreateRecord saves a new conflict record
	CreateRecord(ctx context.Context, record *ConflictRecord) error

	// GetRecordByID retrieves a conflict record by its ID
	GetRecordByID(ctx context.Context, id string) (*ConflictRecord, error)

	// ListBySession retrieves all conflict records for a session
	ListBySession(ctx context.Context, sessionID string) ([]*ConflictRecord, error)

	// ListUnresolved retrieves unresolved records, scoped to one session when
	// sessionID is non-empty, system-wide otherwise
	ListUnresolved(ctx context.Context, sessionID string) ([]*ConflictRecord, error)

	// CountUnresolved counts unresolved records system-wide
	CountUnresolved(ctx context.Context) (int, error)

	// CountBySession counts all records owned by a session
	CountBySession(ctx context.Context, sessionID string) (int, error)

	// ResolveRecord persists a resolution. The update is conditional on the
	// stored record still being unresolved, so resolution happens at most once
	// even under concurrent operators.
	ResolveRecord(ctx context.Context, record *ConflictRecord) error
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

var conflictColumns = []string{
	"id", "sync_session_id", "entity_type", "entity_id",
	"server_version", "server_data", "client_version", "client_data",
	"resolution_strategy", "resolved_by", "resolved_at", "notes", "created_at",
}

// CreateRecord saves a new conflict record
func (r *SQLRepository) CreateRecord(ctx context.Context, record *ConflictRecord) error {
	query, args, err := r.builder.
		Insert("sync_conflicts").
		Columns(conflictColumns...).
		Values(
			record.ID,
			record.SyncSessionID,
			record.EntityType,
			record.EntityID,
			record.ServerVersion,
			nullBytes(record.ServerData),
			record.ClientVersion,
			nullBytes(record.ClientData),
			record.ResolutionStrategy,
			nullString(record.ResolvedBy),
			record.ResolvedAt,
			nullString(record.Notes),
			record.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create conflict query: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing create conflict query: %w", err)
	}

	return nil
}

// GetRecordByID retrieves a conflict record by its ID
func (r *SQLRepository) GetRecordByID(ctx context.Context, id string) (*ConflictRecord, error) {
	query, args, err := r.builder.
		Select(conflictColumns...).
		From("sync_conflicts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get conflict query: %w", err)
	}

	record, err := r.scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("executing get conflict query: %w", err)
	}

	return record, nil
}

// ListBySession retrieves all conflict records for a session
func (r *SQLRepository) ListBySession(ctx context.Context, sessionID string) ([]*ConflictRecord, error) {
	q := r.builder.
		Select(conflictColumns...).
		From("sync_conflicts").
		Where(sq.Eq{"sync_session_id": sessionID}).
		OrderBy("created_at ASC")

	return r.listRecords(ctx, q)
}

// ListUnresolved retrieves unresolved records, optionally scoped to a session
func (r *SQLRepository) ListUnresolved(ctx context.Context, sessionID string) ([]*ConflictRecord, error) {
	q := r.builder.
		Select(conflictColumns...).
		From("sync_conflicts").
		Where(sq.Eq{"resolved_at": nil}).
		OrderBy("created_at ASC")

	if sessionID != "" {
		q = q.Where(sq.Eq{"sync_session_id": sessionID})
	}

	return r.listRecords(ctx, q)
}

// CountUnresolved counts unresolved records system-wide
func (r *SQLRepository) CountUnresolved(ctx context.Context) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From("sync_conflicts").
		Where(sq.Eq{"resolved_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count unresolved query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count unresolved query: %w", err)
	}

	return count, nil
}

// CountBySession counts all records owned by a session
func (r *SQLRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From("sync_conflicts").
		Where(sq.Eq{"sync_session_id": sessionID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count session conflicts query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count session conflicts query: %w", err)
	}

	return count, nil
}

// ResolveRecord persists a resolution with a conditional update
func (r *SQLRepository) ResolveRecord(ctx context.Context, record *ConflictRecord) error {
	if !record.IsResolved() {
		return fmt.Errorf("%w: record is not resolved", ErrInvalidInput)
	}

	query, args, err := r.builder.
		Update("sync_conflicts").
		Set("resolution_strategy", record.ResolutionStrategy).
		Set("resolved_by", record.ResolvedBy).
		Set("resolved_at", record.ResolvedAt).
		Set("notes", nullString(record.Notes)).
		Where(sq.Eq{"id": record.ID}).
		Where("resolved_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("building resolve conflict query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing resolve conflict query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking resolve conflict result: %w", err)
	}

	if affected == 0 {
		// Either the record never existed or another operator resolved it first.
		if _, err := r.GetRecordByID(ctx, record.ID); err != nil {
			return err
		}
		return ErrConflictResolved
	}

	return nil
}

// listRecords executes a select and scans all rows
func (r *SQLRepository) listRecords(ctx context.Context, q sq.SelectBuilder) ([]*ConflictRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list conflicts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list conflicts query: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflict rows: %w", err)
	}

	return records, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRecord(row rowScanner) (*ConflictRecord, error) {
	var (
		record     ConflictRecord
		serverData sql.NullString
		clientData sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
		notes      sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&record.SyncSessionID,
		&record.EntityType,
		&record.EntityID,
		&record.ServerVersion,
		&serverData,
		&record.ClientVersion,
		&clientData,
		&record.ResolutionStrategy,
		&resolvedBy,
		&resolvedAt,
		&notes,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if serverData.Valid && serverData.String != "" {
		record.ServerData = []byte(serverData.String)
	}
	if clientData.Valid && clientData.String != "" {
		record.ClientData = []byte(clientData.String)
	}
	if resolvedBy.Valid {
		record.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		record.ResolvedAt = &resolvedAt.Time
	}
	if notes.Valid {
		record.Notes = notes.String
	}

	return &record, nil
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
