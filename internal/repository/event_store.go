package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/tasklog/internal/domain"
)

const (
	pgUniqueViolation          = "23505"
	pgIdempotencyKeyConstraint = "events_idempotency_key_key"
)

// EventStore is the PostgreSQL append-only event log.
// Every read goes to the database; no stream state is cached.
type EventStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one event at ExpectedVersion+1 and returns the new version.
// Returns ErrConcurrency if the stream has moved past ExpectedVersion, either
// at the version check or at the unique constraint.
func (r *EventStore) Append(ctx context.Context, p AppendParams) (int, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	query, args, err := currentVersionQuery(psql, p.StreamID)
	if err != nil {
		return 0, fmt.Errorf("build current version query: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, query, args...).Scan(&current); err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	if current != p.ExpectedVersion {
		return 0, concurrencyError(p.StreamID, p.ExpectedVersion, current)
	}

	next := current + 1
	query, args, err = psql.
		Insert("events").
		Columns(
			"stream_id", "stream_type", "stream_version", "event_type", "event_payload",
			"event_metadata", "idempotency_key", "correlation_id", "occurred_at",
		).
		Values(
			p.StreamID, p.StreamType, next, p.EventType, p.Payload,
			json.RawMessage(metadata), p.idempotencyKeyValue(), p.CorrelationID, r.now(),
		).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build append query: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return 0, r.classify(err, p, current)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, r.classify(err, p, current)
	}

	return next, nil
}

// classify maps unique violations to domain errors.
func (r *EventStore) classify(err error, p AppendParams, current int) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == pgIdempotencyKeyConstraint {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, p.IdempotencyKey)
		}
		return concurrencyError(p.StreamID, p.ExpectedVersion, current+1)
	}
	return fmt.Errorf("append event: %w", err)
}

// Load retrieves all events of a stream in ascending version order.
func (r *EventStore) Load(ctx context.Context, streamID string) ([]*domain.Event, error) {
	query, args, err := loadQuery(psql, streamID)
	if err != nil {
		return nil, fmt.Errorf("build load query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// FindByIdempotencyKey returns the event that consumed key, or nil.
func (r *EventStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	query, args, err := findByIdempotencyKeyQuery(psql, key)
	if err != nil {
		return nil, fmt.Errorf("build idempotency query: %w", err)
	}

	event, err := scanEvent(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query event by idempotency key: %w", err)
	}
	return event, nil
}

// StreamIDs lists every stream in creation order.
func (r *EventStore) StreamIDs(ctx context.Context) ([]string, error) {
	query, args, err := streamIDsQuery(psql)
	if err != nil {
		return nil, fmt.Errorf("build stream ids query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stream ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect stream ids: %w", err)
	}
	return ids, nil
}
