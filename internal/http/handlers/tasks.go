package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"imagebatch/internal/domain"
	"imagebatch/internal/middleware"
)

type taskView struct {
	domain.Task
	StatusLabel string `json:"status_label"`
}

func (a *App) views(r *http.Request, tasks []domain.Task) []taskView {
	locale := middleware.LocaleFromContext(r.Context())
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView{Task: t, StatusLabel: domain.StatusLabel(t.Status, locale)})
	}
	return out
}

type createTaskRequest struct {
	Prompt   string   `json:"prompt" validate:"required,max=4000"`
	ImageIDs []string `json:"image_ids" validate:"max=20,dive,uuid"`
}

type updateTaskRequest struct {
	Prompt   string   `json:"prompt" validate:"required,max=4000"`
	ImageIDs []string `json:"image_ids" validate:"max=20,dive,uuid"`
}

type reorderRequest struct {
	Index int `json:"index" validate:"gte=0"`
}

func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"items":  a.views(r, a.Tasks.List()),
		"counts": a.Tasks.Counts(),
		"batch":  a.Batch.State(),
	})
}

func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.views(r, []domain.Task{t})[0])
}

// CreateTask adds a single Idle task without prompt expansion.
func (a *App) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.uploadsExist(w, r, req.ImageIDs) {
		return
	}
	t, err := a.Tasks.Create(req.Prompt, domain.TaskDraft{Prompt: req.Prompt, AttachedImageIDs: req.ImageIDs})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.publishTask(t)
	a.json(w, http.StatusCreated, a.views(r, []domain.Task{t})[0])
}

// UpdateTask edits the prompt and attachments of an Idle task.
func (a *App) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.uploadsExist(w, r, req.ImageIDs) {
		return
	}
	t, err := a.Tasks.UpdatePrompt(chi.URLParam(r, "id"), req.Prompt, req.ImageIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.publishTask(t)
	a.json(w, http.StatusOK, a.views(r, []domain.Task{t})[0])
}

// DeleteTask removes a task; during a run only Idle tasks may go.
func (a *App) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Batch.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryTask moves a Failed task back to Idle.
func (a *App) RetryTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Batch.Retry(id); err != nil {
		a.fail(w, r, err)
		return
	}
	t, err := a.Tasks.Get(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.views(r, []domain.Task{t})[0])
}

// ReorderTask moves an Idle task to index in the list.
func (a *App) ReorderTask(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Tasks.Reorder(chi.URLParam(r, "id"), req.Index); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ListTasks(w, r)
}

// ClearTasks removes every task; refused while a batch runs.
func (a *App) ClearTasks(w http.ResponseWriter, r *http.Request) {
	if err := a.Batch.ClearAll(); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) uploadsExist(w http.ResponseWriter, r *http.Request, ids []string) bool {
	for _, id := range ids {
		if _, _, err := a.Uploads.Get(r.Context(), id); err != nil {
			a.fail(w, r, err)
			return false
		}
	}
	return true
}
