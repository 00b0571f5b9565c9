package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"imagebatch/internal/batch"
	httpapi "imagebatch/internal/http"
	"imagebatch/internal/http/handlers"
	"imagebatch/internal/infra"
	"imagebatch/internal/providers/image"
	"imagebatch/internal/providers/prompt"
	"imagebatch/internal/settings"
	"imagebatch/internal/storage"
	"imagebatch/internal/task"
	"imagebatch/internal/uploads"
	"imagebatch/pkg/sse"
	"imagebatch/pkg/zip"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, err := openObjects(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("storage init failed")
	}
	blobs := storage.NewBlobStore(objects, httpapi.BlobsPath)

	settingsStore, closeDB := openSettings(ctx, cfg, logger)
	defer closeDB()

	// LLM calls and zip fetches are bounded; provider calls are not, see imageDeps.
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	tasks := task.NewStore()
	uploadStore := uploads.NewStore(objects)
	hub := sse.NewHub()
	defer hub.Close()

	app := &handlers.App{
		Tasks:        tasks,
		Uploads:      uploadStore,
		Blobs:        blobs,
		Settings:     settingsStore,
		Expanders:    expanderFactory(cfg, httpClient, &logger),
		Hub:          hub,
		Fetcher:      zip.HTTPFetcher{Client: httpClient},
		Logger:       &logger,
		BatchTimeout: cfg.Batch.Timeout,
	}
	app.Batch = batch.New(batch.Options{
		Tasks:    tasks,
		Images:   uploadStore,
		Factory:  image.NewFactory(imageDeps(blobs, &logger)),
		Logger:   &logger,
		Listener: app.Publish,
	})

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.IdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := app.Batch.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("batch still running at shutdown")
	}
	logger.Info().Msg("server stopped")
}

// imageDeps builds the provider dependencies. Provider calls carry no client
// deadline; BATCH_TIMEOUT bounds a dispatch when set.
func imageDeps(blobs *storage.BlobStore, logger *infra.Logger) image.Deps {
	return image.Deps{
		HTTPClient: &http.Client{},
		Blobs:      blobs,
		Logger:     logger,
		MaxRetries: 2,
	}
}

func openObjects(dir string) (storage.Objects, error) {
	if dir == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewFileStore(dir)
}

// openSettings uses Postgres when DATABASE_URL is set and falls back to an
// in-memory document seeded from the environment.
func openSettings(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (settings.Store, func()) {
	defaults := settings.Defaults(cfg)
	pool, err := infra.NewDBPool(ctx, cfg)
	if errors.Is(err, infra.ErrNoDatabase) {
		logger.Info().Msg("settings: no database configured, keeping settings in memory")
		return settings.NewMemoryStore(defaults), func() {}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	store := settings.NewPostgresStore(infra.NewSQLRunner(pool, logger), defaults)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		logger.Fatal().Err(err).Msg("settings: schema setup failed")
	}
	return store, pool.Close
}

func expanderFactory(cfg *infra.Config, client *http.Client, logger *infra.Logger) handlers.ExpanderFactory {
	return func(llm settings.LLM) (prompt.Expander, error) {
		return prompt.New(prompt.Config{
			Provider:     llm.Provider,
			APIKey:       llm.APIKey,
			BaseURL:      llm.BaseURL,
			Model:        llm.Model,
			Organization: cfg.LLM.Organization,
		}, prompt.Deps{
			HTTPClient: client,
			Logger:     logger,
			MaxRetries: 2,
		})
	}
}
