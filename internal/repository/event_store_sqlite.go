package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/mtlprog/tasklog/internal/domain"
)

// SQLiteEventStore is the embedded append-only event log.
// Every read goes to the database; no stream state is cached.
type SQLiteEventStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteEventStore creates a new SQLiteEventStore.
func NewSQLiteEventStore(db *sql.DB) *SQLiteEventStore {
	return &SQLiteEventStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one event at ExpectedVersion+1 and returns the new version.
func (r *SQLiteEventStore) Append(ctx context.Context, p AppendParams) (int, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	query, args, err := currentVersionQuery(sqlite, p.StreamID)
	if err != nil {
		return 0, fmt.Errorf("build current version query: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&current); err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	if current != p.ExpectedVersion {
		return 0, concurrencyError(p.StreamID, p.ExpectedVersion, current)
	}

	next := current + 1
	query, args, err = sqlite.
		Insert("events").
		Columns(
			"stream_id", "stream_type", "stream_version", "event_type", "event_payload",
			"event_metadata", "idempotency_key", "correlation_id", "occurred_at",
		).
		Values(
			p.StreamID, p.StreamType, next, string(p.EventType), string(p.Payload),
			string(metadata), p.idempotencyKeyValue(), p.CorrelationID, r.now(),
		).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build append query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, r.classify(err, p, current)
	}
	if err := tx.Commit(); err != nil {
		return 0, r.classify(err, p, current)
	}

	return next, nil
}

// classify maps unique violations to domain errors.
func (r *SQLiteEventStore) classify(err error, p AppendParams, current int) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		if strings.Contains(sqliteErr.Error(), "events.idempotency_key") {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, p.IdempotencyKey)
		}
		return concurrencyError(p.StreamID, p.ExpectedVersion, current+1)
	}
	return fmt.Errorf("append event: %w", err)
}

// Load retrieves all events of a stream in ascending version order.
func (r *SQLiteEventStore) Load(ctx context.Context, streamID string) ([]*domain.Event, error) {
	query, args, err := loadQuery(sqlite, streamID)
	if err != nil {
		return nil, fmt.Errorf("build load query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteEventStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	query, args, err := findByIdempotencyKeyQuery(sqlite, key)
	if err != nil {
		return nil, fmt.Errorf("build idempotency query: %w", err)
	}

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query event by idempotency key: %w", err)
	}
	return event, nil
}

// StreamIDs lists every stream in creation order.
func (r *SQLiteEventStore) StreamIDs(ctx context.Context) ([]string, error) {
	query, args, err := streamIDsQuery(sqlite)
	if err != nil {
		return nil, fmt.Errorf("build stream ids query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stream ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}
