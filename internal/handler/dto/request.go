package dto

// CreateTaskRequest represents the request body for POST /tasks/{id}.
type CreateTaskRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// TaskActionRequest represents the request body for POST /tasks/{id}/actions.
type TaskActionRequest struct {
	RequestedAction string `json:"requested_action"`
	ActorID         string `json:"actor_id"`
	IdempotencyKey  string `json:"idempotency_key"`
}
