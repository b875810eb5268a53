package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mtlprog/tasklog/internal/domain"
)

// SQLiteProjectionRepository handles the embedded task_projection read-model.
type SQLiteProjectionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteProjectionRepository creates a new SQLiteProjectionRepository.
func NewSQLiteProjectionRepository(db *sql.DB) *SQLiteProjectionRepository {
	return &SQLiteProjectionRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Save overwrites the projection row for p.TaskID.
func (r *SQLiteProjectionRepository) Save(ctx context.Context, p *domain.TaskProjection) error {
	p.UpdatedAt = r.now()

	query, args, err := saveProjectionQuery(sqlite, p)
	if err != nil {
		return fmt.Errorf("build Save query for projection %s: %w", p.TaskID, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	return nil
}

// Get retrieves the projection row for taskID.
func (r *SQLiteProjectionRepository) Get(ctx context.Context, taskID string) (*domain.TaskProjection, error) {
	query, args, err := getProjectionQuery(sqlite, taskID)
	if err != nil {
		return nil, fmt.Errorf("build Get query for projection %s: %w", taskID, err)
	}

	p, err := scanProjection(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan projection: %w", err)
	}
	return p, nil
}

// Delete removes the projection row for taskID. Missing rows are not an error.
func (r *SQLiteProjectionRepository) Delete(ctx context.Context, taskID string) error {
	query, args, err := deleteProjectionQuery(sqlite, taskID)
	if err != nil {
		return fmt.Errorf("build Delete query for projection %s: %w", taskID, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete projection: %w", err)
	}
	return nil
}
