package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/tasklog/internal/domain"
	"github.com/mtlprog/tasklog/internal/handler/dto"
)

// handleCreateTask creates a task stream. A replayed idempotency key answers
// with the task it originally created.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "idempotency_key is required")
		return
	}

	task, err := h.taskService.CreateTask(ctx, taskID, req.IdempotencyKey)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToCreateTaskResponse(task))
}

// handleApplyAction runs a lifecycle command against a task.
func (h *Handler) handleApplyAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.TaskActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.RequestedAction == "" || req.ActorID == "" || req.IdempotencyKey == "" {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"requested_action, actor_id and idempotency_key are required")
		return
	}

	task, err := h.taskService.ApplyAction(ctx, taskID, domain.Action(req.RequestedAction), req.ActorID, req.IdempotencyKey)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
}

// handleGetTask returns the task derived from its event stream.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
}

// handleGetEvents returns the ordered event stream of a task.
func (h *Handler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	events, err := h.taskService.GetEvents(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskEventsResponse(taskID, events))
}

// handleGetProjection returns the cached read-model row of a task.
func (h *Handler) handleGetProjection(w http.ResponseWriter, r *http.Request) {
	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	p, err := h.taskService.GetProjection(r.Context(), taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToProjectionResponse(p))
}
