package conflict

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

func newTestRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  loggy.NewNoopLogger(),
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func sampleConflictRows(record *ConflictRecord) *sqlmock.Rows {
	var resolvedAt any
	if record.ResolvedAt != nil {
		resolvedAt = *record.ResolvedAt
	}
	return sqlmock.NewRows(conflictColumns).AddRow(
		record.ID,
		record.SyncSessionID,
		record.EntityType,
		record.EntityID,
		record.ServerVersion,
		string(record.ServerData),
		record.ClientVersion,
		string(record.ClientData),
		string(record.ResolutionStrategy),
		record.ResolvedBy,
		resolvedAt,
		record.Notes,
		record.CreatedAt,
	)
}

func TestConflictRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	defer db.Close()

	repo := newTestRepository(db)

	sample, err := NewRecord("ses_1", sampleConflict(), StrategyServerWins)
	require.NoError(t, err)

	t.Run("CreateRecord", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO sync_conflicts").
			WithArgs(
				sample.ID,
				sample.SyncSessionID,
				sample.EntityType,
				sample.EntityID,
				sample.ServerVersion,
				string(sample.ServerData),
				sample.ClientVersion,
				string(sample.ClientData),
				string(sample.ResolutionStrategy),
				nil,
				nil,
				nil,
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.CreateRecord(context.Background(), sample)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetRecordByID", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE id = ?").
			WithArgs(sample.ID).
			WillReturnRows(sampleConflictRows(sample))

		got, err := repo.GetRecordByID(context.Background(), sample.ID)
		require.NoError(t, err)
		assert.Equal(t, sample.ID, got.ID)
		assert.Equal(t, sample.ServerVersion, got.ServerVersion)
		assert.False(t, got.IsResolved())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetRecordByID not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE id = ?").
			WithArgs("cfl_missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetRecordByID(context.Background(), "cfl_missing")
		assert.ErrorIs(t, err, ErrConflictNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListUnresolved system-wide", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE resolved_at IS NULL").
			WillReturnRows(sampleConflictRows(sample))

		records, err := repo.ListUnresolved(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListUnresolved scoped to session", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE resolved_at IS NULL AND sync_session_id = ?").
			WithArgs("ses_1").
			WillReturnRows(sampleConflictRows(sample))

		records, err := repo.ListUnresolved(context.Background(), "ses_1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CountUnresolved", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sync_conflicts WHERE resolved_at IS NULL").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		count, err := repo.CountUnresolved(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CountBySession", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sync_conflicts WHERE sync_session_id = ?").
			WithArgs("ses_1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		count, err := repo.CountBySession(context.Background(), "ses_1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResolveRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newTestRepository(db)

	newResolved := func() *ConflictRecord {
		record, err := NewRecord("ses_1", sampleConflict(), StrategyServerWins)
		require.NoError(t, err)
		require.NoError(t, record.Resolve(StrategyClientWins, "admin"))
		return record
	}

	t.Run("success", func(t *testing.T) {
		record := newResolved()

		mock.ExpectExec("UPDATE sync_conflicts SET").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.ResolveRecord(context.Background(), record)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unresolved record", func(t *testing.T) {
		record, err := NewRecord("ses_1", sampleConflict(), StrategyServerWins)
		require.NoError(t, err)

		err = repo.ResolveRecord(context.Background(), record)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("lost race maps to ErrConflictResolved", func(t *testing.T) {
		record := newResolved()

		mock.ExpectExec("UPDATE sync_conflicts SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE id = ?").
			WithArgs(record.ID).
			WillReturnRows(sampleConflictRows(record))

		err := repo.ResolveRecord(context.Background(), record)
		assert.ErrorIs(t, err, ErrConflictResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record maps to ErrConflictNotFound", func(t *testing.T) {
		record := newResolved()

		mock.ExpectExec("UPDATE sync_conflicts SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM sync_conflicts WHERE id = ?").
			WithArgs(record.ID).
			WillReturnError(sql.ErrNoRows)

		err := repo.ResolveRecord(context.Background(), record)
		assert.ErrorIs(t, err, ErrConflictNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
