package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/tasklog/internal/domain"
)

// RebuildProjection recomputes one projection row from the event stream,
// independent of command execution.
func (s *TaskService) RebuildProjection(ctx context.Context, taskID string) (*domain.TaskProjection, error) {
	task, err := s.refresh(ctx, taskID)
	if err != nil {
		return nil, err
	}

	slog.Info("projection rebuilt",
		"task_id", taskID,
		"state", task.State,
		"version", task.Version,
	)

	return task.Projection(), nil
}

// RebuildProjections replays every stream and overwrites its projection row.
// Returns the number of rows rebuilt, and an error if any stream failed.
func (s *TaskService) RebuildProjections(ctx context.Context) (int, error) {
	ids, err := s.events.StreamIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	count := 0
	var errs []error
	for _, id := range ids {
		if _, err := s.refresh(ctx, id); err != nil {
			slog.Error("failed to rebuild projection",
				"task_id", id,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
			continue
		}
		count++
	}

	failedCount := len(ids) - count
	slog.Info("projections rebuilt",
		"total", len(ids),
		"successful", count,
		"failed", failedCount,
	)

	if len(errs) > 0 {
		return count, fmt.Errorf("rebuilt %d/%d projections, %d failures: %v",
			count, len(ids), failedCount, errs)
	}

	return count, nil
}
