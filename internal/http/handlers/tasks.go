package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/http/middleware"
	"github.com/docpare/docpare-back/internal/service"
)

type taskView struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"document_id,omitempty"`
	ComparisonID string     `json:"comparison_id,omitempty"`
	TaskType     string     `json:"task_type"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func newTaskView(task *domain.QueueTask) taskView {
	return taskView{
		ID:           task.ID,
		DocumentID:   task.DocumentID,
		ComparisonID: task.ComparisonID,
		TaskType:     string(task.TaskType),
		Status:       string(task.Status),
		Attempts:     task.Attempts,
		MaxAttempts:  task.MaxAttempts,
		LastError:    task.LastError,
		ScheduledAt:  task.ScheduledAt,
		ClaimedAt:    task.ClaimedAt,
		CompletedAt:  task.CompletedAt,
		CreatedAt:    task.CreatedAt,
	}
}

// TaskByID serves /v1/tasks/{id} so callers can poll async progress. Only
// the owner of the entity the task serves may read it.
func (api *API) TaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	task, err := api.records.GetTask(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := api.taskOwnedBy(r.Context(), task, middleware.GetActorID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(task))
}

// taskOwnedBy resolves the task's owner through the comparison or document
// it serves. Tasks never carry an owner themselves.
func (api *API) taskOwnedBy(ctx context.Context, task *domain.QueueTask, actorID string) error {
	if task.ComparisonID != "" {
		comparison, err := api.records.GetComparison(ctx, task.ComparisonID)
		if err != nil {
			return err
		}
		if comparison.OwnerID != actorID {
			return service.ErrForbidden
		}
		return nil
	}

	document, err := api.records.GetDocument(ctx, task.DocumentID)
	if err != nil {
		return err
	}
	if document.OwnerID != actorID {
		return service.ErrForbidden
	}
	return nil
}
