// Package handlers exposes tasks, uploads, settings and the batch run over
// HTTP and Server-Sent Events.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"imagebatch/internal/batch"
	"imagebatch/internal/domain"
	"imagebatch/internal/infra"
	"imagebatch/internal/providers/prompt"
	"imagebatch/internal/settings"
	"imagebatch/internal/storage"
	"imagebatch/internal/task"
	"imagebatch/internal/uploads"
	"imagebatch/pkg/sse"
	"imagebatch/pkg/zip"
)

// EventsTopic is the hub topic every batch and task event is published on.
const EventsTopic = "batch"

// ExpanderFactory builds the prompt expander for the current LLM settings.
type ExpanderFactory func(cfg settings.LLM) (prompt.Expander, error)

// App carries the collaborators shared by all handlers.
type App struct {
	Tasks        *task.Store
	Uploads      *uploads.Store
	Blobs        *storage.BlobStore
	Batch        *batch.Coordinator
	Settings     settings.Store
	Expanders    ExpanderFactory
	Hub          *sse.Hub
	Fetcher      zip.Fetcher
	Logger       *infra.Logger
	BatchTimeout time.Duration
	KeepAlive    time.Duration
}

var validate = validator.New()

// Publish forwards a coordinator event to stream subscribers. It is used as
// the coordinator's Listener.
func (a *App) Publish(ev batch.Event) {
	if a.Hub == nil {
		return
	}
	a.Hub.Publish(EventsTopic, sse.Message{Event: string(ev.Type), Data: ev})
}

func (a *App) publishTask(t domain.Task) {
	a.Publish(batch.Event{Type: batch.EventTaskUpdated, Task: &t})
}

func (a *App) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	if a.Logger != nil {
		return a.Logger
	}
	return zerolog.Ctx(ctx)
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps err onto a status code and error code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.log(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	a.error(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case batch.IsConfigError(err):
		return http.StatusBadRequest, "invalid_config"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidPrompt), errors.Is(err, settings.ErrInvalid):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrBatchActive):
		return http.StatusConflict, "batch_active"
	case errors.Is(err, domain.ErrNoIdleTasks):
		return http.StatusConflict, "no_idle_tasks"
	case errors.Is(err, domain.ErrTaskBusy), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType, "unsupported_image"
	case errors.Is(err, domain.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "image_too_large"
	case errors.Is(err, prompt.ErrNoTasks):
		return http.StatusUnprocessableEntity, "no_tasks"
	case errors.Is(err, prompt.ErrExpansionFailed), errors.Is(err, prompt.ErrMissingAPIKey):
		return http.StatusBadGateway, "expansion_failed"
	case errors.Is(err, zip.ErrNothingDownloaded):
		return http.StatusBadGateway, "nothing_downloaded"
	}
	return http.StatusInternalServerError, "internal"
}

const maxJSONBody = 1 << 20

// decode reads a JSON body into v and validates it, writing a 400 on
// failure.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if !a.decodeJSON(w, r, v) {
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("%s failed %s", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

// batchConfig loads the current settings as a coordinator snapshot.
func (a *App) batchConfig(ctx context.Context) (batch.Config, error) {
	s, err := a.Settings.Load(ctx)
	if err != nil {
		return batch.Config{}, err
	}
	cfg := s.BatchConfig()
	cfg.Timeout = a.BatchTimeout
	return cfg, nil
}
