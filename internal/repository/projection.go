package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/tasklog/internal/domain"
)

// projectionColumns is the shared list of columns for projection queries.
var projectionColumns = []string{"task_id", "current_state", "state_changed_at", "version", "updated_at"}

const projectionUpsert = "ON CONFLICT (task_id) DO UPDATE SET " +
	"current_state = excluded.current_state, " +
	"state_changed_at = excluded.state_changed_at, " +
	"version = excluded.version, " +
	"updated_at = excluded.updated_at " +
	"WHERE task_projection.version <= excluded.version"

func saveProjectionQuery(b sq.StatementBuilderType, p *domain.TaskProjection) (string, []any, error) {
	return b.
		Insert("task_projection").
		Columns(projectionColumns...).
		Values(p.TaskID, string(p.CurrentState), p.StateChangedAt, p.Version, p.UpdatedAt).
		Suffix(projectionUpsert).
		ToSql()
}

func getProjectionQuery(b sq.StatementBuilderType, taskID string) (string, []any, error) {
	return b.
		Select(projectionColumns...).
		From("task_projection").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
}

func deleteProjectionQuery(b sq.StatementBuilderType, taskID string) (string, []any, error) {
	return b.
		Delete("task_projection").
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
}

// scanProjection scans a single row into a TaskProjection struct.
func scanProjection(row rowScanner) (*domain.TaskProjection, error) {
	var p domain.TaskProjection
	if err := row.Scan(&p.TaskID, &p.CurrentState, &p.StateChangedAt, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.StateChangedAt = p.StateChangedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ProjectionRepository handles the PostgreSQL task_projection read-model.
type ProjectionRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewProjectionRepository creates a new ProjectionRepository.
func NewProjectionRepository(pool *pgxpool.Pool) *ProjectionRepository {
	return &ProjectionRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Save overwrites the projection row for p.TaskID.
func (r *ProjectionRepository) Save(ctx context.Context, p *domain.TaskProjection) error {
	p.UpdatedAt = r.now()

	query, args, err := saveProjectionQuery(psql, p)
	if err != nil {
		return fmt.Errorf("build Save query for projection %s: %w", p.TaskID, err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	return nil
}

// Get retrieves the projection row for taskID.
func (r *ProjectionRepository) Get(ctx context.Context, taskID string) (*domain.TaskProjection, error) {
	query, args, err := getProjectionQuery(psql, taskID)
	if err != nil {
		return nil, fmt.Errorf("build Get query for projection %s: %w", taskID, err)
	}

	p, err := scanProjection(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan projection: %w", err)
	}
	return p, nil
}

// Delete removes the projection row for taskID. Missing rows are not an error.
func (r *ProjectionRepository) Delete(ctx context.Context, taskID string) error {
	query, args, err := deleteProjectionQuery(psql, taskID)
	if err != nil {
		return fmt.Errorf("build Delete query for projection %s: %w", taskID, err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete projection: %w", err)
	}
	return nil
}
