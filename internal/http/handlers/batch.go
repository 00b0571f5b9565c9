package handlers

import (
	"net/http"
)

func (a *App) BatchState(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"state": a.Batch.State(), "counts": a.Tasks.Counts()})
}

// StartBatch schedules every Idle task with the current settings.
func (a *App) StartBatch(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.batchConfig(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Batch.StartBatch(cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"state": a.Batch.State()})
}

// PauseBatch stops admissions; running tasks finish.
func (a *App) PauseBatch(w http.ResponseWriter, r *http.Request) {
	a.Batch.Pause()
	a.json(w, http.StatusOK, map[string]any{"state": a.Batch.State()})
}

func (a *App) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.batchConfig(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Batch.Resume(cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"state": a.Batch.State()})
}
