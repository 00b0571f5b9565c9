package handlers

import (
	"net/http"

	"imagebatch/internal/domain"
	"imagebatch/internal/providers/prompt"
)

type expandRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	// ImageIDs selects the uploads the model may reference, in order.
	// Omitted means every upload.
	ImageIDs []string `json:"image_ids" validate:"max=20,dive,uuid"`
}

type improveRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

func (a *App) expander(r *http.Request) (prompt.Expander, error) {
	s, err := a.Settings.Load(r.Context())
	if err != nil {
		return nil, err
	}
	return a.Expanders(s.LLM)
}

// ExpandPrompt turns an intent into Idle tasks. Attachment indices returned
// by the model address the selected uploads.
func (a *App) ExpandPrompt(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if !a.decode(w, r, &req) {
		return
	}
	uploadIDs := req.ImageIDs
	if uploadIDs == nil {
		uploadIDs = a.Uploads.IDs()
	}
	for _, id := range uploadIDs {
		if _, _, err := a.Uploads.Get(r.Context(), id); err != nil {
			a.fail(w, r, err)
			return
		}
	}

	exp, err := a.expander(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	drafts, err := exp.Expand(r.Context(), prompt.Request{Prompt: req.Prompt, UploadedCount: len(uploadIDs)})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	taskDrafts := make([]domain.TaskDraft, 0, len(drafts))
	for _, d := range drafts {
		var ids []string
		for _, idx := range d.ImageIndexes {
			if idx >= 0 && idx < len(uploadIDs) {
				ids = append(ids, uploadIDs[idx])
			}
		}
		taskDrafts = append(taskDrafts, domain.TaskDraft{Prompt: d.Prompt, AttachedImageIDs: ids})
	}
	created, err := a.Tasks.Add(req.Prompt, taskDrafts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	for _, t := range created {
		a.publishTask(t)
	}
	a.log(r.Context()).Info().Int("tasks", len(created)).Int("uploads", len(uploadIDs)).Msg("prompt expanded")
	a.json(w, http.StatusCreated, map[string]any{"items": a.views(r, created)})
}

// ImprovePrompt returns a more detailed prompt; on backend failure the input
// comes back unchanged.
func (a *App) ImprovePrompt(w http.ResponseWriter, r *http.Request) {
	var req improveRequest
	if !a.decode(w, r, &req) {
		return
	}
	exp, err := a.expander(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	improved, err := exp.Improve(r.Context(), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"prompt": improved, "original": req.Prompt})
}
