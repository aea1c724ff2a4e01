package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/notify"
	"github.com/tildaslashalef/fieldsync/internal/session"
)

// mockSessionRepository mocks session.Repository
type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) CreateSession(ctx context.Context, s *session.SyncSession) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockSessionRepository) GetSessionByID(ctx context.Context, id string) (*session.SyncSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.SyncSession), args.Error(1)
}

func (m *mockSessionRepository) ListSessions(ctx context.Context, filter session.HistoryFilter, params session.PaginationParams) ([]*session.SyncSession, error) {
	args := m.Called(ctx, filter, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*session.SyncSession), args.Error(1)
}

func (m *mockSessionRepository) CountSessions(ctx context.Context, deviceID string, status session.Status) (int, error) {
	args := m.Called(ctx, deviceID, status)
	return args.Int(0), args.Error(1)
}

func (m *mockSessionRepository) GetLatestSessionByDevice(ctx context.Context, deviceID string) (*session.SyncSession, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.SyncSession), args.Error(1)
}

func (m *mockSessionRepository) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]*session.SyncSession, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*session.SyncSession), args.Error(1)
}

func (m *mockSessionRepository) FinishSession(ctx context.Context, s *session.SyncSession) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// mockConflictRepository mocks conflict.Repository
type mockConflictRepository struct {
	mock.Mock
}

func (m *mockConflictRepository) CreateRecord(ctx context.Context, record *conflict.ConflictRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockConflictRepository) GetRecordByID(ctx context.Context, id string) (*conflict.ConflictRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conflict.ConflictRecord), args.Error(1)
}

func (m *mockConflictRepository) ListBySession(ctx context.Context, sessionID string) ([]*conflict.ConflictRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*conflict.ConflictRecord), args.Error(1)
}

func (m *mockConflictRepository) ListUnresolved(ctx context.Context, sessionID string) ([]*conflict.ConflictRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*conflict.ConflictRecord), args.Error(1)
}

func (m *mockConflictRepository) CountUnresolved(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockConflictRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *mockConflictRepository) ResolveRecord(ctx context.Context, record *conflict.ConflictRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// stubVersionResolver serves versions from a fixed map
type stubVersionResolver struct {
	versions map[string]ServerVersion
	err      error
}

func (s *stubVersionResolver) ResolveVersions(context.Context, []EntityRef) (map[string]ServerVersion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.versions, nil
}

type engineFixture struct {
	service      *Service
	sessionRepo  *mockSessionRepository
	conflictRepo *mockConflictRepository
	resolver     *stubVersionResolver
}

func newEngineFixture(resolver *stubVersionResolver) *engineFixture {
	logger := loggy.NewNoopLogger()
	sink := notify.NewLogSink(logger)

	sessionRepo := new(mockSessionRepository)
	conflictRepo := new(mockConflictRepository)

	conflictService := conflict.NewService(conflictRepo, sink, logger)
	sessionService := session.NewService(sessionRepo, conflictService, sink, logger)

	return &engineFixture{
		service:      NewService(sessionService, conflictService, resolver, conflict.StrategyServerWins, logger),
		sessionRepo:  sessionRepo,
		conflictRepo: conflictRepo,
		resolver:     resolver,
	}
}

func startedSession(t *testing.T) *session.SyncSession {
	t.Helper()
	sess, err := session.New("tablet-01", "rancher", nil)
	require.NoError(t, err)
	return sess
}

func TestApplyChanges(t *testing.T) {
	serverData := json.RawMessage(`{"weight_kg":430}`)
	resolver := &stubVersionResolver{versions: map[string]ServerVersion{
		"animal_1": {Version: 5, Data: serverData},
		"lot_1":    {Version: 2},
	}}
	f := newEngineFixture(resolver)

	sess := startedSession(t)
	changes := []ChangeItem{
		{EntityID: "animal_1", EntityType: "Animal", Version: 3, Data: json.RawMessage(`{"weight_kg":412}`)},
		{EntityID: "lot_1", EntityType: "Lot", Version: 2},
		{EntityID: "animal_new", EntityType: "Animal", Version: 0},
	}

	var recorded []*conflict.ConflictRecord
	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)
	f.conflictRepo.On("CreateRecord", mock.Anything, mock.AnythingOfType("*conflict.ConflictRecord")).
		Run(func(args mock.Arguments) {
			recorded = append(recorded, args.Get(1).(*conflict.ConflictRecord))
		}).
		Return(nil)
	f.conflictRepo.On("CountBySession", mock.Anything, sess.ID).Return(1, nil)
	f.sessionRepo.On("FinishSession", mock.Anything, sess).Return(nil)

	completed, err := f.service.ApplyChanges(context.Background(), sess.ID, changes, "")
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, completed.Status)
	assert.Equal(t, 2, completed.UploadedRecords, "uploaded is the batch minus the conflicts")
	assert.Equal(t, 1, completed.ConflictRecords)

	require.Len(t, recorded, 1)
	assert.Equal(t, "animal_1", recorded[0].EntityID)
	assert.Equal(t, int64(5), recorded[0].ServerVersion)
	assert.Equal(t, int64(3), recorded[0].ClientVersion)
	assert.Equal(t, serverData, recorded[0].ServerData, "server snapshot is attached to the record")
	assert.Equal(t, conflict.StrategyServerWins, recorded[0].ResolutionStrategy, "default strategy applies when none requested")
}

func TestApplyChangesNoConflicts(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{versions: map[string]ServerVersion{}})

	sess := startedSession(t)
	changes := []ChangeItem{
		{EntityID: "animal_new", EntityType: "Animal", Version: 0},
	}

	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)
	f.conflictRepo.On("CountBySession", mock.Anything, sess.ID).Return(0, nil)
	f.sessionRepo.On("FinishSession", mock.Anything, sess).Return(nil)

	completed, err := f.service.ApplyChanges(context.Background(), sess.ID, changes, "")
	require.NoError(t, err)

	assert.Equal(t, 1, completed.UploadedRecords)
	assert.Zero(t, completed.ConflictRecords)
	f.conflictRepo.AssertNotCalled(t, "CreateRecord", mock.Anything, mock.Anything)
}

func TestApplyChangesEmptyBatch(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{})

	sess := startedSession(t)
	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)

	_, err := f.service.ApplyChanges(context.Background(), sess.ID, nil, "")
	assert.ErrorIs(t, err, ErrNoChanges)
}

func TestApplyChangesSessionNotFound(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{})

	f.sessionRepo.On("GetSessionByID", mock.Anything, "ses_missing").Return(nil, session.ErrSessionNotFound)

	_, err := f.service.ApplyChanges(context.Background(), "ses_missing", []ChangeItem{{EntityID: "x", EntityType: "Animal"}}, "")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestApplyChangesFinishedSession(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{})

	sess := startedSession(t)
	require.NoError(t, sess.Complete(0, 0, 0))

	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)

	_, err := f.service.ApplyChanges(context.Background(), sess.ID, []ChangeItem{{EntityID: "x", EntityType: "Animal"}}, "")
	assert.ErrorIs(t, err, session.ErrSessionFinished)
}

func TestApplyChangesInvalidStrategy(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{})

	sess := startedSession(t)
	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)

	_, err := f.service.ApplyChanges(context.Background(), sess.ID, []ChangeItem{{EntityID: "x", EntityType: "Animal"}}, "coin_flip")
	assert.ErrorIs(t, err, conflict.ErrInvalidStrategy)
}

func TestApplyChangesNormalizesStrategy(t *testing.T) {
	resolver := &stubVersionResolver{versions: map[string]ServerVersion{
		"animal_1": {Version: 5},
	}}
	f := newEngineFixture(resolver)

	sess := startedSession(t)
	changes := []ChangeItem{
		{EntityID: "animal_1", EntityType: "Animal", Version: 3},
	}

	var recorded *conflict.ConflictRecord
	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)
	f.conflictRepo.On("CreateRecord", mock.Anything, mock.AnythingOfType("*conflict.ConflictRecord")).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(*conflict.ConflictRecord)
		}).
		Return(nil)
	f.conflictRepo.On("CountBySession", mock.Anything, sess.ID).Return(1, nil)
	f.sessionRepo.On("FinishSession", mock.Anything, sess).Return(nil)

	// Strategy parsing tolerates case and whitespace; the stored record must
	// carry the canonical form the schema accepts
	_, err := f.service.ApplyChanges(context.Background(), sess.ID, changes, "SERVER_WINS")
	require.NoError(t, err)

	require.NotNil(t, recorded)
	assert.Equal(t, conflict.StrategyServerWins, recorded.ResolutionStrategy)
}

func TestApplyChangesResolverFailure(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{err: errors.New("server tables unavailable")})

	sess := startedSession(t)
	f.sessionRepo.On("GetSessionByID", mock.Anything, sess.ID).Return(sess, nil)

	_, err := f.service.ApplyChanges(context.Background(), sess.ID, []ChangeItem{{EntityID: "x", EntityType: "Animal"}}, "")
	require.Error(t, err)
	f.sessionRepo.AssertNotCalled(t, "FinishSession", mock.Anything, mock.Anything)
}

func TestPerformFullSync(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{versions: map[string]ServerVersion{}})

	var created *session.SyncSession
	f.sessionRepo.On("CreateSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*session.SyncSession)
			f.sessionRepo.On("GetSessionByID", mock.Anything, created.ID).Return(created, nil)
		}).
		Return(nil)
	f.conflictRepo.On("CountBySession", mock.Anything, mock.AnythingOfType("string")).Return(0, nil)
	f.sessionRepo.On("FinishSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).Return(nil)

	input := session.InitiateInput{DeviceID: "tablet-01", UserID: "rancher"}
	changes := []ChangeItem{{EntityID: "animal_new", EntityType: "Animal", Version: 0}}

	completed, err := f.service.PerformFullSync(context.Background(), input, changes, "")
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, completed.Status)
	assert.Equal(t, 1, completed.UploadedRecords)
}

func TestPerformFullSyncCompensation(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{versions: map[string]ServerVersion{}})

	var created *session.SyncSession
	f.sessionRepo.On("CreateSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*session.SyncSession)
			f.sessionRepo.On("GetSessionByID", mock.Anything, created.ID).Return(created, nil)
		}).
		Return(nil)
	f.sessionRepo.On("FinishSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).Return(nil)

	input := session.InitiateInput{DeviceID: "tablet-01", UserID: "rancher"}

	// An empty batch makes change application fail after the session exists
	_, err := f.service.PerformFullSync(context.Background(), input, nil, "")
	assert.ErrorIs(t, err, ErrNoChanges, "the original failure is surfaced")

	require.NotNil(t, created)
	assert.Equal(t, session.StatusFailed, created.Status, "the session is failed, not left open")
	assert.Contains(t, created.ErrorMessage, "change batch")
}

func TestPerformFullSyncCompensationFailure(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{versions: map[string]ServerVersion{}})

	var created *session.SyncSession
	f.sessionRepo.On("CreateSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*session.SyncSession)
			f.sessionRepo.On("GetSessionByID", mock.Anything, created.ID).Return(created, nil)
		}).
		Return(nil)
	// Even the compensating transition fails; the apply error still wins
	f.sessionRepo.On("FinishSession", mock.Anything, mock.AnythingOfType("*session.SyncSession")).
		Return(errors.New("database locked"))

	input := session.InitiateInput{DeviceID: "tablet-01", UserID: "rancher"}

	_, err := f.service.PerformFullSync(context.Background(), input, nil, "")
	assert.ErrorIs(t, err, ErrNoChanges)
}

func TestPerformFullSyncInitiateFailure(t *testing.T) {
	f := newEngineFixture(&stubVersionResolver{})

	f.sessionRepo.On("CreateSession", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	_, err := f.service.PerformFullSync(context.Background(),
		session.InitiateInput{DeviceID: "tablet-01", UserID: "rancher"},
		[]ChangeItem{{EntityID: "x", EntityType: "Animal"}}, "")
	require.Error(t, err)
	f.sessionRepo.AssertNotCalled(t, "FinishSession", mock.Anything, mock.Anything)
}
