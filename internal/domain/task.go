package domain

import (
	"fmt"
	"sort"
	"time"
)

// StreamTypeTask is the stream discriminator for task aggregates.
const StreamTypeTask = "TASK"

// TaskState represents the state of a task in the lifecycle.
type TaskState string

const (
	TaskStateCreated    TaskState = "CREATED"
	TaskStateInReview   TaskState = "IN_REVIEW"
	TaskStateInProgress TaskState = "IN_PROGRESS"
	TaskStateCompleted  TaskState = "COMPLETED"
	TaskStateArchived   TaskState = "ARCHIVED"
)

// IsValid checks if the state is one of the allowed values.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateCreated, TaskStateInReview, TaskStateInProgress,
		TaskStateCompleted, TaskStateArchived:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state has no outgoing actions.
func (s TaskState) IsTerminal() bool {
	return len(lifecycle[s]) == 0
}

// Action is a command that a caller may request on a task.
type Action string

const (
	ActionCreateTask      Action = "create_task"
	ActionSubmitForReview Action = "submit_for_review"
	ActionStartProgress   Action = "start_progress"
	ActionCompleteTask    Action = "complete_task"
	ActionArchiveTask     Action = "archive_task"
)

// Capability is a permission name held by an actor.
type Capability string

// lifecycle is the closed transition table: state -> action -> next state.
// ARCHIVED has no inbound edge even though archive_task is a known action.
var lifecycle = map[TaskState]map[Action]TaskState{
	TaskStateCreated: {
		ActionSubmitForReview: TaskStateInReview,
	},
	TaskStateInReview: {
		ActionStartProgress: TaskStateInProgress,
	},
	TaskStateInProgress: {
		ActionCompleteTask: TaskStateCompleted,
	},
	TaskStateCompleted: {},
	TaskStateArchived:  {},
}

// requiredCapabilities maps each guarded action to the capability it needs.
var requiredCapabilities = map[Action]Capability{
	ActionSubmitForReview: "submit_for_review",
	ActionStartProgress:   "start_progress",
	ActionCompleteTask:    "complete_task",
	ActionArchiveTask:     "archive_task",
}

// allStates lists every state in lifecycle order.
var allStates = []TaskState{
	TaskStateCreated,
	TaskStateInReview,
	TaskStateInProgress,
	TaskStateCompleted,
	TaskStateArchived,
}

// NextState returns the state reached by applying action from state.
func NextState(state TaskState, action Action) (TaskState, bool) {
	next, ok := lifecycle[state][action]
	return next, ok
}

// AllowedActions returns the actions permitted from state, sorted by name.
// Terminal states return an empty, non-nil slice.
func AllowedActions(state TaskState) []Action {
	actions := make([]Action, 0, len(lifecycle[state]))
	for action := range lifecycle[state] {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// RequiredCapability returns the capability needed to request action.
// Unknown actions require nothing and are left to the transition guard.
func RequiredCapability(action Action) (Capability, bool) {
	c, ok := requiredCapabilities[action]
	return c, ok
}

// ValidateLifecycle checks that the transition table is complete: every state
// has an entry, every target is a known state, and every action that appears
// has a capability requirement.
func ValidateLifecycle() error {
	for _, state := range allStates {
		if _, ok := lifecycle[state]; !ok {
			return fmt.Errorf("lifecycle: state %s has no transition entry", state)
		}
	}
	for state, actions := range lifecycle {
		if !state.IsValid() {
			return fmt.Errorf("lifecycle: unknown source state %q", state)
		}
		for action, next := range actions {
			if !next.IsValid() {
				return fmt.Errorf("lifecycle: %s --%s--> unknown state %q", state, action, next)
			}
			if _, ok := requiredCapabilities[action]; !ok {
				return fmt.Errorf("lifecycle: action %s has no capability requirement", action)
			}
		}
	}
	return nil
}

// Task is the aggregate derived by folding a task's event stream.
// It is never persisted as truth.
type Task struct {
	ID             string
	State          TaskState
	CreatedAt      time.Time
	StateChangedAt time.Time
	Version        int
}

// IsImmutable reports whether no further action can change the task.
func (t *Task) IsImmutable() bool {
	return t.State.IsTerminal()
}

// NextAllowedActions returns the actions permitted from the current state.
func (t *Task) NextAllowedActions() []Action {
	return AllowedActions(t.State)
}

// Projection returns the read-model row for the aggregate.
func (t *Task) Projection() *TaskProjection {
	return &TaskProjection{
		TaskID:         t.ID,
		CurrentState:   t.State,
		StateChangedAt: t.StateChangedAt,
		Version:        t.Version,
	}
}

// TaskProjection is the cached read-model of a task.
// It is always rebuildable from the event stream.
type TaskProjection struct {
	TaskID         string
	CurrentState   TaskState
	StateChangedAt time.Time
	Version        int
	UpdatedAt      time.Time
}
