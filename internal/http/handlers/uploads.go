package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"imagebatch/internal/domain"
	"imagebatch/internal/uploads"
)

const maxUploadFiles = 20

// Upload accepts multipart "files" and stores each image. Every file is
// validated; the first invalid one aborts the request.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxUploadFiles)*(uploads.MaxImageBytes+1<<10))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "files required")
		return
	}
	if len(files) > maxUploadFiles {
		a.error(w, http.StatusBadRequest, "bad_request", "too many files")
		return
	}

	saved := make([]domain.UploadedImage, 0, len(files))
	for _, fh := range files {
		if fh.Size > uploads.MaxImageBytes {
			a.fail(w, r, domain.ErrImageTooLarge)
			return
		}
		f, err := fh.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable file")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, uploads.MaxImageBytes+1))
		_ = f.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable file")
			return
		}
		meta, err := a.Uploads.Save(r.Context(), fh.Filename, data)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		saved = append(saved, meta)
	}
	a.json(w, http.StatusCreated, map[string]any{"items": saved})
}

func (a *App) ListUploads(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Uploads.List()})
}

// UploadContent serves the raw image bytes.
func (a *App) UploadContent(w http.ResponseWriter, r *http.Request) {
	meta, data, err := a.Uploads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", meta.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := a.Uploads.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ClearUploads(w http.ResponseWriter, r *http.Request) {
	if err := a.Uploads.Clear(r.Context()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
