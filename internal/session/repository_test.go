package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

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

func sampleSessionRows(session *SyncSession) *sqlmock.Rows {
	var endDate any
	if session.EndDate != nil {
		endDate = *session.EndDate
	}
	return sqlmock.NewRows(sessionColumns).AddRow(
		session.ID,
		session.DeviceID,
		session.UserID,
		string(session.Status),
		session.StartDate,
		endDate,
		session.UploadedRecords,
		session.DownloadedRecords,
		session.ConflictRecords,
		session.ErrorMessage,
		string(session.DeviceMetadata),
		session.CreatedAt,
		session.UpdatedAt,
	)
}

func TestSessionRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	defer db.Close()

	repo := newTestRepository(db)

	sample, err := New("tablet-01", "rancher", []byte(`{"app_version":"2.4.1"}`))
	require.NoError(t, err)

	t.Run("CreateSession", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO sync_sessions").
			WithArgs(
				sample.ID,
				sample.DeviceID,
				sample.UserID,
				string(sample.Status),
				sqlmock.AnyArg(),
				nil,
				0,
				0,
				0,
				nil,
				string(sample.DeviceMetadata),
				sqlmock.AnyArg(),
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.CreateSession(context.Background(), sample)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetSessionByID", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE id = ?").
			WithArgs(sample.ID).
			WillReturnRows(sampleSessionRows(sample))

		got, err := repo.GetSessionByID(context.Background(), sample.ID)
		require.NoError(t, err)
		assert.Equal(t, sample.ID, got.ID)
		assert.Equal(t, sample.DeviceID, got.DeviceID)
		assert.Equal(t, StatusStarted, got.Status)
		assert.Nil(t, got.EndDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetSessionByID not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE id = ?").
			WithArgs("ses_missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetSessionByID(context.Background(), "ses_missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CountSessions", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sync_sessions").
			WithArgs(sample.DeviceID, string(StatusFailed)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		count, err := repo.CountSessions(context.Background(), sample.DeviceID, StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetLatestSessionByDevice none", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE device_id = ?").
			WithArgs("never-synced").
			WillReturnError(sql.ErrNoRows)

		got, err := repo.GetLatestSessionByDevice(context.Background(), "never-synced")
		require.NoError(t, err, "a device with no sessions is not an error")
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListStaleSessions", func(t *testing.T) {
		cutoff := time.Now().Add(-2 * time.Hour)

		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE status = \\? AND start_date < ?").
			WithArgs(string(StatusStarted), cutoff).
			WillReturnRows(sampleSessionRows(sample))

		stale, err := repo.ListStaleSessions(context.Background(), cutoff)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, sample.ID, stale[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFinishSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := newTestRepository(db)

	newFinished := func() *SyncSession {
		session, err := New("tablet-01", "rancher", nil)
		require.NoError(t, err)
		require.NoError(t, session.Complete(5, 0, 1))
		return session
	}

	t.Run("success", func(t *testing.T) {
		session := newFinished()

		mock.ExpectExec("UPDATE sync_sessions SET").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.FinishSession(context.Background(), session)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		session, err := New("tablet-01", "rancher", nil)
		require.NoError(t, err)

		err = repo.FinishSession(context.Background(), session)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("lost race maps to ErrSessionFinished", func(t *testing.T) {
		session := newFinished()

		mock.ExpectExec("UPDATE sync_sessions SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		// The follow-up existence check finds the row, so another writer won
		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE id = ?").
			WithArgs(session.ID).
			WillReturnRows(sampleSessionRows(session))

		err := repo.FinishSession(context.Background(), session)
		assert.ErrorIs(t, err, ErrSessionFinished)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session maps to ErrSessionNotFound", func(t *testing.T) {
		session := newFinished()

		mock.ExpectExec("UPDATE sync_sessions SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM sync_sessions WHERE id = ?").
			WithArgs(session.ID).
			WillReturnError(sql.ErrNoRows)

		err := repo.FinishSession(context.Background(), session)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
