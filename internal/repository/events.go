package repository

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/tasklog/internal/domain"
)

// eventColumns is the shared list of columns for event queries.
var eventColumns = []string{
	"event_id", "stream_id", "stream_type", "stream_version", "event_type",
	"event_payload", "event_metadata", "idempotency_key", "correlation_id", "occurred_at",
}

// AppendParams describes one event to append to a stream.
type AppendParams struct {
	StreamID        string
	StreamType      string
	ExpectedVersion int
	EventType       domain.EventType
	Payload         json.RawMessage
	Metadata        domain.EventMetadata
	IdempotencyKey  string
	CorrelationID   string
}

// idempotencyKeyValue maps an empty key to NULL so that unkeyed events do not
// collide on the unique index.
func (p AppendParams) idempotencyKeyValue() *string {
	if p.IdempotencyKey == "" {
		return nil
	}
	return &p.IdempotencyKey
}

func currentVersionQuery(b sq.StatementBuilderType, streamID string) (string, []any, error) {
	return b.
		Select("COALESCE(MAX(stream_version), 0)").
		From("events").
		Where(sq.Eq{"stream_id": streamID}).
		ToSql()
}

func loadQuery(b sq.StatementBuilderType, streamID string) (string, []any, error) {
	return b.
		Select(eventColumns...).
		From("events").
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("stream_version ASC").
		ToSql()
}

func findByIdempotencyKeyQuery(b sq.StatementBuilderType, key string) (string, []any, error) {
	return b.
		Select(eventColumns...).
		From("events").
		Where(sq.Eq{"idempotency_key": key}).
		ToSql()
}

func streamIDsQuery(b sq.StatementBuilderType) (string, []any, error) {
	return b.
		Select("stream_id").
		From("events").
		Where(sq.Eq{"stream_version": 1}).
		OrderBy("event_id ASC").
		ToSql()
}

// scanEvent scans a single row into an Event struct.
func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		event    domain.Event
		payload  []byte
		metadata []byte
		key      *string
	)
	err := row.Scan(
		&event.ID,
		&event.StreamID,
		&event.StreamType,
		&event.StreamVersion,
		&event.Type,
		&payload,
		&metadata,
		&key,
		&event.CorrelationID,
		&event.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	event.Payload = json.RawMessage(payload)
	if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
		return nil, fmt.Errorf("parse event_metadata of event %d: %w", event.ID, err)
	}
	if key != nil {
		event.IdempotencyKey = *key
	}
	event.OccurredAt = event.OccurredAt.UTC()

	return &event, nil
}

func concurrencyError(streamID string, expected, current int) error {
	return fmt.Errorf("%w: stream %s expected version %d, found %d",
		domain.ErrConcurrency, streamID, expected, current)
}
