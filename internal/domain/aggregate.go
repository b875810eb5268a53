package domain

import "fmt"

// Rehydrate folds an ordered event stream into the task aggregate.
// Returns nil when the stream is empty. Events must be in ascending
// stream_version order.
func Rehydrate(taskID string, events []*Event) (*Task, error) {
	if len(events) == 0 {
		return nil, nil
	}

	task := &Task{ID: taskID}
	for _, event := range events {
		if err := task.apply(event); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// apply folds a single event into the aggregate.
func (t *Task) apply(event *Event) error {
	switch event.Type {
	case EventTypeTaskCreated:
		var p TaskCreatedPayload
		if err := event.DecodePayload(&p); err != nil {
			return err
		}
		t.State = TaskStateCreated
		t.CreatedAt = p.CreatedAt
		t.StateChangedAt = p.CreatedAt

	case EventTypeTaskTransitioned:
		var p TaskTransitionedPayload
		if err := event.DecodePayload(&p); err != nil {
			return err
		}
		t.State = p.ToState
		t.StateChangedAt = p.OccurredAt

	case EventTypeTransitionRejected, EventTypeCapabilityDenied:
		// Audit facts: they consume a version but leave state alone.

	default:
		return fmt.Errorf("%w: %q in stream %s at version %d",
			ErrUnknownEvent, event.Type, event.StreamID, event.StreamVersion)
	}

	t.Version = event.StreamVersion
	return nil
}
