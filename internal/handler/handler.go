// Package handler exposes the task command processor over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mtlprog/tasklog/internal/handler/dto"
	"github.com/mtlprog/tasklog/internal/service"
)

// HealthCheck reports whether the storage engine is reachable.
type HealthCheck func(ctx context.Context) error

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	taskService *service.TaskService
	healthCheck HealthCheck
}

// New creates a new Handler instance with all dependencies.
func New(taskService *service.TaskService, healthCheck HealthCheck) *Handler {
	return &Handler{
		taskService: taskService,
		healthCheck: healthCheck,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	// API v1 routes
	mux.HandleFunc("POST /api/v1/tasks/{id}", h.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/actions", h.handleApplyAction)
	mux.HandleFunc("GET /api/v1/tasks/{id}/events", h.handleGetEvents)
	mux.HandleFunc("GET /api/v1/tasks/{id}/projection", h.handleGetProjection)
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.healthCheck(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err and writes it as a standard error response.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// extractTaskID extracts the task ID from the path parameter.
// Returns (taskID, true) if present, ("", false) if missing (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := r.PathValue("id")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return "", false
	}
	return taskID, true
}
