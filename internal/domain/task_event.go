package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of task event.
type EventType string

const (
	EventTypeTaskCreated        EventType = "TaskCreated"
	EventTypeTaskTransitioned   EventType = "TaskTransitioned"
	EventTypeTransitionRejected EventType = "TransitionRejected"
	EventTypeCapabilityDenied   EventType = "CapabilityDenied"
)

// IsFailure returns true for guard-failure facts that leave state unchanged.
func (t EventType) IsFailure() bool {
	return t == EventTypeTransitionRejected || t == EventTypeCapabilityDenied
}

// Event is an immutable fact appended once to a task stream.
type Event struct {
	ID             int64
	StreamID       string
	StreamType     string
	StreamVersion  int
	Type           EventType
	Payload        json.RawMessage
	Metadata       EventMetadata
	IdempotencyKey string
	CorrelationID  string
	OccurredAt     time.Time
}

// EventMetadata carries context that is not part of domain semantics.
type EventMetadata struct {
	ActorID string `json:"actor_id"`
	Action  Action `json:"action"`
}

// TaskCreatedPayload is the payload of a TaskCreated event.
type TaskCreatedPayload struct {
	State     TaskState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskTransitionedPayload is the payload of a TaskTransitioned event.
type TaskTransitionedPayload struct {
	FromState  TaskState `json:"from_state"`
	ToState    TaskState `json:"to_state"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GuardFailurePayload is the payload of TransitionRejected and
// CapabilityDenied events.
type GuardFailurePayload struct {
	CurrentState    TaskState `json:"current_state"`
	AttemptedAction Action    `json:"attempted_action"`
	Reason          string    `json:"reason"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EncodePayload marshals an event payload for storage.
func EncodePayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals the event payload into dst.
func (e *Event) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload at version %d: %w", e.Type, e.StreamVersion, err)
	}
	return nil
}
