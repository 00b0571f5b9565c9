package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"imagebatch/internal/http/handlers"
	"imagebatch/internal/middleware"
)

// BlobsPath is where decoded provider images are served; it is also the
// public base the blob store builds URLs with.
const BlobsPath = "/v1/blobs"

// RouterOptions configure cross-cutting middleware.
type RouterOptions struct {
	CORSOrigins     []string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.Locale,
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/settings", func(r chi.Router) {
		r.Get("/", app.GetSettings)
		r.Put("/", app.UpdateSettings)
	})

	r.Route("/v1/uploads", func(r chi.Router) {
		r.Get("/", app.ListUploads)
		r.Post("/", app.Upload)
		r.Delete("/", app.ClearUploads)
		r.Get("/{id}", app.UploadContent)
		r.Delete("/{id}", app.DeleteUpload)
	})

	r.Route("/v1/prompts", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/expand", app.ExpandPrompt)
		r.Post("/improve", app.ImprovePrompt)
	})

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", app.ListTasks)
		r.Post("/", app.CreateTask)
		r.Delete("/", app.ClearTasks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetTask)
			r.Put("/", app.UpdateTask)
			r.Delete("/", app.DeleteTask)
			r.Post("/retry", app.RetryTask)
			r.Post("/reorder", app.ReorderTask)
			r.Get("/images/{imageID}", app.DownloadImage)
		})
	})

	r.Route("/v1/batch", func(r chi.Router) {
		r.Get("/", app.BatchState)
		r.Post("/start", app.StartBatch)
		r.Post("/pause", app.PauseBatch)
		r.Post("/resume", app.ResumeBatch)
	})

	r.Get("/v1/events", app.Events)
	r.Get("/v1/downloads/zip", app.DownloadZip)
	r.Get(BlobsPath+"/*", app.Blob)

	return r
}
