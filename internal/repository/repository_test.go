package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/tasklog/internal/database"
	"github.com/mtlprog/tasklog/internal/domain"
	"github.com/mtlprog/tasklog/internal/repository"
)

type eventStore interface {
	Append(ctx context.Context, p repository.AppendParams) (int, error)
	Load(ctx context.Context, streamID string) ([]*domain.Event, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error)
	StreamIDs(ctx context.Context) ([]string, error)
}

type projectionStore interface {
	Save(ctx context.Context, p *domain.TaskProjection) error
	Get(ctx context.Context, taskID string) (*domain.TaskProjection, error)
	Delete(ctx context.Context, taskID string) error
}

// StoreTestSuite exercises the event store and projection contracts against
// one storage engine. Engine-specific suites embed it and fill in the stores.
type StoreTestSuite struct {
	suite.Suite
	events      eventStore
	projections projectionStore
}

func appendParams(streamID string, expected int, eventType domain.EventType, key string) repository.AppendParams {
	return repository.AppendParams{
		StreamID:        streamID,
		StreamType:      domain.StreamTypeTask,
		ExpectedVersion: expected,
		EventType:       eventType,
		Payload:         json.RawMessage(`{"state":"CREATED","created_at":"2026-01-02T03:04:05Z"}`),
		Metadata:        domain.EventMetadata{ActorID: "USER", Action: domain.ActionSubmitForReview},
		IdempotencyKey:  key,
		CorrelationID:   "corr-" + key,
	}
}

// TestAppend_AssignsSequentialVersions tests version monotonicity within a stream.
func (s *StoreTestSuite) TestAppend_AssignsSequentialVersions() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := "k" + string(rune('a'+i))
		version, err := s.events.Append(ctx, appendParams("T1", i, domain.EventTypeTransitionRejected, key))
		s.Require().NoError(err)
		s.Equal(i+1, version)
	}

	events, err := s.events.Load(ctx, "T1")
	s.Require().NoError(err)
	s.Require().Len(events, 5)
	for i, e := range events {
		s.Equal(i+1, e.StreamVersion)
		s.Equal("T1", e.StreamID)
		s.Equal(domain.StreamTypeTask, e.StreamType)
		s.NotZero(e.ID)
		s.False(e.OccurredAt.IsZero())
	}
}

// TestAppend_RoundTripsFields tests that stored fields come back intact.
func (s *StoreTestSuite) TestAppend_RoundTripsFields() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k1"))
	s.Require().NoError(err)

	events, err := s.events.Load(ctx, "T1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)

	e := events[0]
	s.Equal(domain.EventTypeTaskCreated, e.Type)
	s.Equal("USER", e.Metadata.ActorID)
	s.Equal(domain.ActionSubmitForReview, e.Metadata.Action)
	s.Equal("k1", e.IdempotencyKey)
	s.Equal("corr-k1", e.CorrelationID)

	var payload domain.TaskCreatedPayload
	s.Require().NoError(e.DecodePayload(&payload))
	s.Equal(domain.TaskStateCreated, payload.State)
}

// TestAppend_StaleExpectedVersion tests that a mismatch fails without writing.
func (s *StoreTestSuite) TestAppend_StaleExpectedVersion() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k1"))
	s.Require().NoError(err)

	_, err = s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k2"))
	s.ErrorIs(err, domain.ErrConcurrency)

	_, err = s.events.Append(ctx, appendParams("T1", 5, domain.EventTypeTaskTransitioned, "k3"))
	s.ErrorIs(err, domain.ErrConcurrency)

	events, err := s.events.Load(ctx, "T1")
	s.Require().NoError(err)
	s.Len(events, 1)

	found, err := s.events.FindByIdempotencyKey(ctx, "k2")
	s.Require().NoError(err)
	s.Nil(found)
}

// TestAppend_ConcurrentSameVersion checks that exactly one racing append wins.
func (s *StoreTestSuite) TestAppend_ConcurrentSameVersion() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k0"))
	s.Require().NoError(err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, key := range []string{"k1", "k2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := s.events.Append(ctx, appendParams("T1", 1, domain.EventTypeTaskTransitioned, key))
			results <- err
		}(key)
	}
	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		s.ErrorIs(err, domain.ErrConcurrency)
	}
	s.Equal(1, successCount, "exactly one append should succeed")

	events, err := s.events.Load(ctx, "T1")
	s.Require().NoError(err)
	s.Len(events, 2)
}

// TestAppend_DuplicateIdempotencyKey tests store-wide key uniqueness.
func (s *StoreTestSuite) TestAppend_DuplicateIdempotencyKey() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "shared"))
	s.Require().NoError(err)

	_, err = s.events.Append(ctx, appendParams("T2", 0, domain.EventTypeTaskCreated, "shared"))
	s.ErrorIs(err, domain.ErrDuplicateIdempotencyKey)

	events, err := s.events.Load(ctx, "T2")
	s.Require().NoError(err)
	s.Empty(events)
}

// TestAppend_EmptyIdempotencyKeysDoNotCollide tests that unkeyed events are stored as NULL.
func (s *StoreTestSuite) TestAppend_EmptyIdempotencyKeysDoNotCollide() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, ""))
	s.Require().NoError(err)
	_, err = s.events.Append(ctx, appendParams("T2", 0, domain.EventTypeTaskCreated, ""))
	s.Require().NoError(err)
}

// TestLoad_UnknownStream tests that a missing stream loads as empty.
func (s *StoreTestSuite) TestLoad_UnknownStream() {
	events, err := s.events.Load(context.Background(), "missing")
	s.Require().NoError(err)
	s.Empty(events)
}

// TestFindByIdempotencyKey tests key lookup.
func (s *StoreTestSuite) TestFindByIdempotencyKey() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k1"))
	s.Require().NoError(err)
	_, err = s.events.Append(ctx, appendParams("T1", 1, domain.EventTypeCapabilityDenied, "k2"))
	s.Require().NoError(err)

	found, err := s.events.FindByIdempotencyKey(ctx, "k2")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal("T1", found.StreamID)
	s.Equal(2, found.StreamVersion)
	s.Equal(domain.EventTypeCapabilityDenied, found.Type)

	missing, err := s.events.FindByIdempotencyKey(ctx, "nope")
	s.Require().NoError(err)
	s.Nil(missing)
}

// TestStreamIDs tests listing streams in creation order.
func (s *StoreTestSuite) TestStreamIDs() {
	ctx := context.Background()

	for _, id := range []string{"B", "A", "C"} {
		_, err := s.events.Append(ctx, appendParams(id, 0, domain.EventTypeTaskCreated, "create-"+id))
		s.Require().NoError(err)
	}
	_, err := s.events.Append(ctx, appendParams("A", 1, domain.EventTypeTransitionRejected, "reject-A"))
	s.Require().NoError(err)

	ids, err := s.events.StreamIDs(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"B", "A", "C"}, ids)
}

// TestProjection_SaveGetDelete tests the projection upsert lifecycle.
func (s *StoreTestSuite) TestProjection_SaveGetDelete() {
	ctx := context.Background()
	changedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := s.projections.Get(ctx, "T1")
	s.ErrorIs(err, domain.ErrTaskNotFound)

	s.Require().NoError(s.projections.Save(ctx, &domain.TaskProjection{
		TaskID:         "T1",
		CurrentState:   domain.TaskStateCreated,
		StateChangedAt: changedAt,
		Version:        1,
	}))

	s.Require().NoError(s.projections.Save(ctx, &domain.TaskProjection{
		TaskID:         "T1",
		CurrentState:   domain.TaskStateInReview,
		StateChangedAt: changedAt.Add(time.Minute),
		Version:        2,
	}))

	got, err := s.projections.Get(ctx, "T1")
	s.Require().NoError(err)
	s.Equal("T1", got.TaskID)
	s.Equal(domain.TaskStateInReview, got.CurrentState)
	s.True(got.StateChangedAt.Equal(changedAt.Add(time.Minute)))
	s.Equal(2, got.Version)
	s.False(got.UpdatedAt.IsZero())

	s.Require().NoError(s.projections.Delete(ctx, "T1"))
	_, err = s.projections.Get(ctx, "T1")
	s.ErrorIs(err, domain.ErrTaskNotFound)

	s.NoError(s.projections.Delete(ctx, "T1"))
}

// TestProjection_StaleSaveIsIgnored tests that an older fold cannot overwrite a newer row.
func (s *StoreTestSuite) TestProjection_StaleSaveIsIgnored() {
	ctx := context.Background()
	changedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s.Require().NoError(s.projections.Save(ctx, &domain.TaskProjection{
		TaskID:         "T1",
		CurrentState:   domain.TaskStateInProgress,
		StateChangedAt: changedAt.Add(2 * time.Minute),
		Version:        3,
	}))

	s.Require().NoError(s.projections.Save(ctx, &domain.TaskProjection{
		TaskID:         "T1",
		CurrentState:   domain.TaskStateInReview,
		StateChangedAt: changedAt.Add(time.Minute),
		Version:        2,
	}))

	got, err := s.projections.Get(ctx, "T1")
	s.Require().NoError(err)
	s.Equal(domain.TaskStateInProgress, got.CurrentState)
	s.Equal(3, got.Version)

	// Same-version saves still apply, as a rebuild does.
	s.Require().NoError(s.projections.Save(ctx, &domain.TaskProjection{
		TaskID:         "T1",
		CurrentState:   domain.TaskStateInProgress,
		StateChangedAt: changedAt.Add(2 * time.Minute),
		Version:        3,
	}))
	got, err = s.projections.Get(ctx, "T1")
	s.Require().NoError(err)
	s.Equal(3, got.Version)
}

// SQLiteStoreTestSuite runs the store contract against an in-memory SQLite database.
type SQLiteStoreTestSuite struct {
	StoreTestSuite
	db *sql.DB
}

// SetupTest opens a fresh database for each test.
func (s *SQLiteStoreTestSuite) SetupTest() {
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	s.Require().NoError(err, "failed to open sqlite database")
	s.Require().NoError(database.RunSQLiteMigrations(ctx, db), "failed to run migrations")

	s.db = db
	s.events = repository.NewSQLiteEventStore(db)
	s.projections = repository.NewSQLiteProjectionRepository(db)
}

// TearDownTest closes the database.
func (s *SQLiteStoreTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

// TestEventsAreAppendOnly tests that the schema rejects updates and deletes.
func (s *SQLiteStoreTestSuite) TestEventsAreAppendOnly() {
	ctx := context.Background()

	_, err := s.events.Append(ctx, appendParams("T1", 0, domain.EventTypeTaskCreated, "k1"))
	s.Require().NoError(err)

	_, err = s.db.ExecContext(ctx, "UPDATE events SET event_type = 'TaskTransitioned'")
	s.Error(err)
	_, err = s.db.ExecContext(ctx, "DELETE FROM events")
	s.Error(err)
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreTestSuite))
}

// PostgresStoreTestSuite runs the store contract against PostgreSQL.
type PostgresStoreTestSuite struct {
	StoreTestSuite
	pool *pgxpool.Pool
}

// SetupSuite connects once before all tests.
func (s *PostgresStoreTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()

	db, err := database.New(ctx, databaseURL, 4)
	s.Require().NoError(err, "failed to connect to database")
	s.pool = db.Pool()

	s.Require().NoError(database.RunMigrations(ctx, s.pool), "failed to run migrations")

	s.events = repository.NewEventStore(s.pool)
	s.projections = repository.NewProjectionRepository(s.pool)
}

// SetupTest cleans all data before each test.
func (s *PostgresStoreTestSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE events, task_projection RESTART IDENTITY")
	s.Require().NoError(err, "failed to truncate tables")
}

// TearDownSuite runs once after all tests.
func (s *PostgresStoreTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreTestSuite))
}
