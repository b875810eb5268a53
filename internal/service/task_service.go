// Package service implements the task command processor: it rehydrates the
// aggregate from the event store, gates commands on capability and lifecycle,
// appends the resulting fact, and keeps the projection in step.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mtlprog/tasklog/internal/capability"
	"github.com/mtlprog/tasklog/internal/domain"
	"github.com/mtlprog/tasklog/internal/repository"
)

// EventStore is the append-only log the processor reads and writes.
type EventStore interface {
	Append(ctx context.Context, p repository.AppendParams) (int, error)
	Load(ctx context.Context, streamID string) ([]*domain.Event, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error)
	StreamIDs(ctx context.Context) ([]string, error)
}

// ProjectionStore is the rebuildable read-model cache.
type ProjectionStore interface {
	Save(ctx context.Context, p *domain.TaskProjection) error
	Get(ctx context.Context, taskID string) (*domain.TaskProjection, error)
	Delete(ctx context.Context, taskID string) error
}

// TaskService coordinates task commands and state transitions.
type TaskService struct {
	events      EventStore
	projections ProjectionStore
	resolver    capability.Resolver
	now         func() time.Time
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) { s.now = now }
}

// NewTaskService creates a new TaskService. It fails if the lifecycle table
// is incomplete.
func NewTaskService(
	events EventStore,
	projections ProjectionStore,
	resolver capability.Resolver,
	opts ...Option,
) (*TaskService, error) {
	if err := domain.ValidateLifecycle(); err != nil {
		return nil, err
	}

	s := &TaskService{
		events:      events,
		projections: projections,
		resolver:    resolver,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateTask starts a new task stream. Replaying a consumed idempotency key
// returns the task it created; creating over a live stream with a different
// key fails with ErrTaskAlreadyExists.
func (s *TaskService) CreateTask(ctx context.Context, taskID, idempotencyKey string) (*domain.Task, error) {
	if taskID == "" {
		return nil, domain.ErrEmptyTaskID
	}
	if idempotencyKey == "" {
		return nil, domain.ErrEmptyIdempotencyKey
	}

	replayed, err := s.replay(ctx, taskID, idempotencyKey)
	if err != nil || replayed != nil {
		return replayed, err
	}

	existing, err := s.rehydrate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskAlreadyExists, taskID)
	}

	payload, err := domain.EncodePayload(domain.TaskCreatedPayload{
		State:     domain.TaskStateCreated,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	_, err = s.events.Append(ctx, repository.AppendParams{
		StreamID:        taskID,
		StreamType:      domain.StreamTypeTask,
		ExpectedVersion: 0,
		EventType:       domain.EventTypeTaskCreated,
		Payload:         payload,
		Metadata:        domain.EventMetadata{ActorID: capability.ActorSystem, Action: domain.ActionCreateTask},
		IdempotencyKey:  idempotencyKey,
		CorrelationID:   uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return s.replayOrConflict(ctx, taskID, idempotencyKey)
		}
		if errors.Is(err, domain.ErrConcurrency) {
			replayed, rerr := s.replay(ctx, taskID, idempotencyKey)
			if rerr != nil || replayed != nil {
				return replayed, rerr
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskAlreadyExists, taskID)
		}
		return nil, fmt.Errorf("append TaskCreated: %w", err)
	}

	task, err := s.refresh(ctx, taskID)
	if err != nil {
		return nil, err
	}

	slog.Info("task created",
		"task_id", taskID,
		"version", task.Version,
	)

	return task, nil
}

// ApplyAction executes a lifecycle command against a task.
//
// Every path except the idempotent replay appends exactly one event: a
// TaskTransitioned on success, or a CapabilityDenied / TransitionRejected
// fact before ErrCapabilityDenied / ErrInvalidTransition is returned.
// ErrConcurrency is returned as-is; the caller decides whether to resubmit.
func (s *TaskService) ApplyAction(
	ctx context.Context,
	taskID string,
	action domain.Action,
	actorID string,
	idempotencyKey string,
) (*domain.Task, error) {
	if taskID == "" {
		return nil, domain.ErrEmptyTaskID
	}
	if action == "" {
		return nil, domain.ErrEmptyAction
	}
	if idempotencyKey == "" {
		return nil, domain.ErrEmptyIdempotencyKey
	}

	replayed, err := s.replay(ctx, taskID, idempotencyKey)
	if err != nil || replayed != nil {
		return replayed, err
	}

	task, err := s.rehydrate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}

	allowed, err := s.authorize(ctx, actorID, action)
	if err != nil {
		return nil, err
	}
	if !allowed {
		reason := fmt.Sprintf("actor %s lacks capability for %s", actorID, action)
		replayed, err := s.recordGuardFailure(ctx, task, domain.EventTypeCapabilityDenied, action, actorID, idempotencyKey, reason)
		if err != nil || replayed != nil {
			return replayed, err
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilityDenied, reason)
	}

	next, ok := domain.NextState(task.State, action)
	if !ok {
		reason := fmt.Sprintf("action %s not allowed from state %s", action, task.State)
		replayed, err := s.recordGuardFailure(ctx, task, domain.EventTypeTransitionRejected, action, actorID, idempotencyKey, reason)
		if err != nil || replayed != nil {
			return replayed, err
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, reason)
	}

	payload, err := domain.EncodePayload(domain.TaskTransitionedPayload{
		FromState:  task.State,
		ToState:    next,
		OccurredAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	_, err = s.events.Append(ctx, repository.AppendParams{
		StreamID:        taskID,
		StreamType:      domain.StreamTypeTask,
		ExpectedVersion: task.Version,
		EventType:       domain.EventTypeTaskTransitioned,
		Payload:         payload,
		Metadata:        domain.EventMetadata{ActorID: actorID, Action: action},
		IdempotencyKey:  idempotencyKey,
		CorrelationID:   correlationID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return s.replayOrConflict(ctx, taskID, idempotencyKey)
		}
		return nil, fmt.Errorf("append TaskTransitioned: %w", err)
	}

	updated, err := s.refresh(ctx, taskID)
	if err != nil {
		return nil, err
	}

	slog.Info("task transitioned",
		"task_id", taskID,
		"actor_id", actorID,
		"action", action,
		"from_state", task.State,
		"to_state", updated.State,
		"version", updated.Version,
		"correlation_id", correlationID,
	)

	return updated, nil
}

// GetTask derives the current task by folding its stream.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.rehydrate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	return task, nil
}

// GetEvents returns the full ordered stream of a task.
func (s *TaskService) GetEvents(ctx context.Context, taskID string) ([]*domain.Event, error) {
	events, err := s.events.Load(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	return events, nil
}

// GetProjection returns the cached read-model row of a task.
func (s *TaskService) GetProjection(ctx context.Context, taskID string) (*domain.TaskProjection, error) {
	p, err := s.projections.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: projection %s", domain.ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("get projection: %w", err)
	}
	return p, nil
}

// replay implements the idempotency short-circuit. It returns the current
// task when key was already consumed by taskID's stream, nil when the key is
// fresh, and ErrIdempotencyKeyConflict when another stream consumed it.
func (s *TaskService) replay(ctx context.Context, taskID, key string) (*domain.Task, error) {
	prior, err := s.events.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	if prior == nil {
		return nil, nil
	}
	if prior.StreamID != taskID {
		return nil, fmt.Errorf("%w: key %s used by task %s", domain.ErrIdempotencyKeyConflict, key, prior.StreamID)
	}

	task, err := s.rehydrate(ctx, taskID)
	if err != nil {
		return nil, err
	}

	slog.Debug("idempotent replay",
		"task_id", taskID,
		"idempotency_key", key,
		"event_type", prior.Type,
		"version", task.Version,
	)

	return task, nil
}

// replayOrConflict resolves an append that lost a race on its idempotency key.
func (s *TaskService) replayOrConflict(ctx context.Context, taskID, key string) (*domain.Task, error) {
	task, err := s.replay(ctx, taskID, key)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: key %s vanished after conflict", domain.ErrConcurrency, key)
	}
	return task, nil
}

// authorize reports whether actorID may request action. Actions with no
// capability requirement pass through to the transition guard.
func (s *TaskService) authorize(ctx context.Context, actorID string, action domain.Action) (bool, error) {
	required, ok := domain.RequiredCapability(action)
	if !ok {
		return true, nil
	}

	caps, err := s.resolver.Resolve(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("resolve capabilities: %w", err)
	}
	return caps.Has(required), nil
}

// recordGuardFailure appends a CapabilityDenied or TransitionRejected fact at
// the aggregate's current version and refreshes the projection. A non-nil
// task is returned when another command consumed the key first.
func (s *TaskService) recordGuardFailure(
	ctx context.Context,
	task *domain.Task,
	eventType domain.EventType,
	action domain.Action,
	actorID string,
	idempotencyKey string,
	reason string,
) (*domain.Task, error) {
	payload, err := domain.EncodePayload(domain.GuardFailurePayload{
		CurrentState:    task.State,
		AttemptedAction: action,
		Reason:          reason,
		OccurredAt:      s.now(),
	})
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	version, err := s.events.Append(ctx, repository.AppendParams{
		StreamID:        task.ID,
		StreamType:      domain.StreamTypeTask,
		ExpectedVersion: task.Version,
		EventType:       eventType,
		Payload:         payload,
		Metadata:        domain.EventMetadata{ActorID: actorID, Action: action},
		IdempotencyKey:  idempotencyKey,
		CorrelationID:   correlationID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return s.replayOrConflict(ctx, task.ID, idempotencyKey)
		}
		return nil, fmt.Errorf("append %s: %w", eventType, err)
	}

	if _, err := s.refresh(ctx, task.ID); err != nil {
		return nil, err
	}

	slog.Warn("command rejected",
		"task_id", task.ID,
		"actor_id", actorID,
		"action", action,
		"event_type", eventType,
		"state", task.State,
		"version", version,
		"correlation_id", correlationID,
	)

	return nil, nil
}

// rehydrate loads and folds a stream. Returns nil for an absent stream.
func (s *TaskService) rehydrate(ctx context.Context, taskID string) (*domain.Task, error) {
	events, err := s.events.Load(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	task, err := domain.Rehydrate(taskID, events)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEvent) {
			slog.Error("stream integrity violation", "task_id", taskID, "error", err)
		}
		return nil, fmt.Errorf("rehydrate task %s: %w", taskID, err)
	}
	return task, nil
}

// refresh refolds a stream and rewrites its projection row.
func (s *TaskService) refresh(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.rehydrate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}

	if err := s.projections.Save(ctx, task.Projection()); err != nil {
		return nil, fmt.Errorf("save projection: %w", err)
	}
	return task, nil
}
