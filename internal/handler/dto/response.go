package dto

import (
	"encoding/json"
	"time"

	"github.com/mtlprog/tasklog/internal/domain"
)

// CreateTaskResponse represents the response for POST /tasks/{id}.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// TaskResponse represents the current view of a task.
type TaskResponse struct {
	TaskID             string    `json:"task_id"`
	CurrentState       string    `json:"current_state"`
	StateChangedAt     time.Time `json:"state_changed_at"`
	IsImmutable        bool      `json:"is_immutable"`
	NextAllowedActions []string  `json:"next_allowed_actions"`
}

// TaskEventInfo represents one event of a task stream.
type TaskEventInfo struct {
	EventType     string               `json:"event_type"`
	Payload       json.RawMessage      `json:"payload"`
	Metadata      domain.EventMetadata `json:"metadata"`
	Version       int                  `json:"version"`
	CorrelationID string               `json:"correlation_id"`
}

// TaskEventsResponse represents the response for GET /tasks/{id}/events.
type TaskEventsResponse struct {
	TaskID string          `json:"task_id"`
	Events []TaskEventInfo `json:"events"`
}

// ProjectionResponse represents the cached read-model of a task.
type ProjectionResponse struct {
	TaskID         string    `json:"task_id"`
	CurrentState   string    `json:"current_state"`
	StateChangedAt time.Time `json:"state_changed_at"`
	Version        int       `json:"version"`
}

// ToCreateTaskResponse converts domain.Task to CreateTaskResponse.
func ToCreateTaskResponse(task *domain.Task) CreateTaskResponse {
	return CreateTaskResponse{
		TaskID: task.ID,
		State:  string(task.State),
	}
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task) TaskResponse {
	actions := task.NextAllowedActions()
	next := make([]string, len(actions))
	for i, a := range actions {
		next[i] = string(a)
	}

	return TaskResponse{
		TaskID:             task.ID,
		CurrentState:       string(task.State),
		StateChangedAt:     task.StateChangedAt,
		IsImmutable:        task.IsImmutable(),
		NextAllowedActions: next,
	}
}

// ToTaskEventsResponse converts a stream to TaskEventsResponse.
func ToTaskEventsResponse(taskID string, events []*domain.Event) TaskEventsResponse {
	infos := make([]TaskEventInfo, len(events))
	for i, e := range events {
		infos[i] = TaskEventInfo{
			EventType:     string(e.Type),
			Payload:       e.Payload,
			Metadata:      e.Metadata,
			Version:       e.StreamVersion,
			CorrelationID: e.CorrelationID,
		}
	}
	return TaskEventsResponse{TaskID: taskID, Events: infos}
}

// ToProjectionResponse converts domain.TaskProjection to ProjectionResponse.
func ToProjectionResponse(p *domain.TaskProjection) ProjectionResponse {
	return ProjectionResponse{
		TaskID:         p.TaskID,
		CurrentState:   string(p.CurrentState),
		StateChangedAt: p.StateChangedAt,
		Version:        p.Version,
	}
}
