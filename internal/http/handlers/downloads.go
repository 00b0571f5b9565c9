package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"imagebatch/internal/domain"
	"imagebatch/pkg/zip"
)

// Blob serves an image decoded from a provider response.
func (a *App) Blob(w http.ResponseWriter, r *http.Request) {
	data, mime, err := a.Blobs.Open(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// fetch reads locally stored blobs directly and everything else through
// the configured fetcher.
func (a *App) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if name, ok := a.Blobs.Resolve(url); ok {
		return a.Blobs.Open(ctx, name)
	}
	if a.Fetcher == nil {
		return nil, "", fmt.Errorf("no fetcher for %s", url)
	}
	return a.Fetcher.Fetch(ctx, url)
}

// DownloadImage sends one generated image as an attachment named after the
// task prompt.
func (a *App) DownloadImage(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	imageID := chi.URLParam(r, "imageID")
	for i, img := range t.GeneratedImages {
		if img.ID != imageID {
			continue
		}
		data, mime, err := a.fetch(r.Context(), img.URL)
		if err != nil {
			a.log(r.Context()).Warn().Err(err).Str("url", img.URL).Msg("image download failed")
			a.error(w, http.StatusBadGateway, "download_failed", "image could not be downloaded")
			return
		}
		name := zip.UniqueFilename(path.Base(img.URL), t.Prompt, i)
		w.Header().Set("Content-Type", mime)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	a.fail(w, r, domain.ErrNotFound)
}

// DownloadZip archives the images of completed tasks. ?task_id= may be
// repeated to narrow the selection.
func (a *App) DownloadZip(w http.ResponseWriter, r *http.Request) {
	selected := make(map[string]bool)
	for _, id := range r.URL.Query()["task_id"] {
		if id = strings.TrimSpace(id); id != "" {
			selected[id] = true
		}
	}
	var urls []string
	for _, t := range a.Tasks.List() {
		if t.Status != domain.TaskStatusCompleted {
			continue
		}
		if len(selected) > 0 && !selected[t.ID] {
			continue
		}
		for _, img := range t.GeneratedImages {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no completed images")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	assets, failed, err := zip.Collect(ctx, urls, zip.FetchFunc(a.fetch), 4)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(failed) > 0 {
		a.log(r.Context()).Warn().Int("failed", len(failed)).Int("archived", len(assets)).Msg("zip: some images skipped")
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="all_images.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
