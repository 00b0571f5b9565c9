// Command batchgen runs one batch from the terminal: prompts come from a
// file or stdin, one intent per line, and the generated images are written
// into a zip archive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"imagebatch/internal/batch"
	"imagebatch/internal/domain"
	"imagebatch/internal/infra"
	"imagebatch/internal/providers/image"
	"imagebatch/internal/providers/prompt"
	"imagebatch/internal/settings"
	"imagebatch/internal/storage"
	"imagebatch/internal/task"
	"imagebatch/internal/uploads"
	"imagebatch/pkg/zip"
)

const blobsBase = "/blobs"

type options struct {
	input   string
	expand  bool
	attach  stringList
	out     string
	workers int
	count   int
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	var opts options
	flag.StringVar(&opts.input, "f", "-", "prompt file, one intent per line; - reads stdin")
	flag.BoolVar(&opts.expand, "expand", false, "expand each intent through the configured LLM")
	flag.Var(&opts.attach, "attach", "reference image attached to every task (repeatable)")
	flag.StringVar(&opts.out, "o", "images.zip", "output archive")
	flag.IntVar(&opts.workers, "batch-size", 0, "concurrent generations (0 uses configuration)")
	flag.IntVar(&opts.count, "n", 0, "images per prompt (0 uses configuration)")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchgen: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewCLILogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger, opts); err != nil {
		logger.Error().Err(err).Msg("batchgen failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *infra.Config, logger *infra.Logger, opts options) error {
	intents, err := readPrompts(opts.input)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return errors.New("no prompts given")
	}

	objects := storage.NewMemoryStore()
	blobs := storage.NewBlobStore(objects, blobsBase)
	uploadStore := uploads.NewStore(objects)
	var attachIDs []string
	for _, path := range opts.attach {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		meta, err := uploadStore.Save(ctx, filepath.Base(path), data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		attachIDs = append(attachIDs, meta.ID)
	}

	s := settings.Defaults(cfg)
	if opts.workers > 0 {
		s.Common.BatchSize = opts.workers
	}
	if opts.count > 0 {
		s.Common.Count = opts.count
	}
	if err := s.Validate(); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	tasks := task.NewStore()
	drafts, err := buildDrafts(ctx, cfg, s, client, logger, opts.expand, intents, attachIDs)
	if err != nil {
		return err
	}
	for _, d := range drafts {
		if _, err := tasks.Add(d.original, d.drafts); err != nil {
			return err
		}
	}

	coord := batch.New(batch.Options{
		Tasks:  tasks,
		Images: uploadStore,
		Factory: image.NewFactory(image.Deps{
			HTTPClient: &http.Client{},
			Blobs:      blobs,
			Logger:     logger,
			MaxRetries: 2,
		}),
		Logger: logger,
		Listener: func(e batch.Event) {
			if e.Type == batch.EventTaskUpdated && e.Task != nil && e.Task.Status.Terminal() {
				logger.Info().Str("task_id", e.Task.ID).Str("status", string(e.Task.Status)).Str("error", e.Task.Error).Msg("task finished")
			}
		},
	})
	bc := s.BatchConfig()
	bc.Timeout = cfg.Batch.Timeout
	if err := coord.StartBatch(bc); err != nil {
		return err
	}
	if err := coord.Wait(ctx); err != nil {
		coord.Pause()
		return err
	}

	counts := tasks.Counts()
	logger.Info().Int("completed", counts.Completed).Int("failed", counts.Failed).Msg("batch finished")
	return writeArchive(ctx, tasks, blobs, client, opts.out, logger)
}

type intentDrafts struct {
	original string
	drafts   []domain.TaskDraft
}

func buildDrafts(ctx context.Context, cfg *infra.Config, s settings.Settings, client *http.Client, logger *infra.Logger, expand bool, intents, attachIDs []string) ([]intentDrafts, error) {
	var exp prompt.Expander = prompt.NewStaticExpander()
	if s.LLM.Provider != "" && s.LLM.Provider != "static" {
		var err error
		exp, err = prompt.New(prompt.Config{
			Provider:         s.LLM.Provider,
			APIKey:           s.LLM.APIKey,
			BaseURL:          s.LLM.BaseURL,
			Model:            s.LLM.Model,
			Organization:     cfg.LLM.Organization,
			FallbackToStatic: true,
		}, prompt.Deps{HTTPClient: client, Logger: logger, MaxRetries: 2})
		if err != nil {
			return nil, err
		}
	}

	out := make([]intentDrafts, 0, len(intents))
	for _, intent := range intents {
		if !expand {
			out = append(out, intentDrafts{original: intent, drafts: []domain.TaskDraft{{Prompt: intent, AttachedImageIDs: attachIDs}}})
			continue
		}
		drafts, err := exp.Expand(ctx, prompt.Request{Prompt: intent, UploadedCount: len(attachIDs)})
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", intent, err)
		}
		group := intentDrafts{original: intent}
		for _, d := range drafts {
			var ids []string
			for _, idx := range d.ImageIndexes {
				if idx >= 0 && idx < len(attachIDs) {
					ids = append(ids, attachIDs[idx])
				}
			}
			group.drafts = append(group.drafts, domain.TaskDraft{Prompt: d.Prompt, AttachedImageIDs: ids})
		}
		out = append(out, group)
	}
	return out, nil
}

func writeArchive(ctx context.Context, tasks *task.Store, blobs *storage.BlobStore, client *http.Client, path string, logger *infra.Logger) error {
	var urls []string
	for _, t := range tasks.List() {
		for _, img := range t.GeneratedImages {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) == 0 {
		return zip.ErrNothingDownloaded
	}
	remote := zip.HTTPFetcher{Client: client}
	fetch := zip.FetchFunc(func(ctx context.Context, url string) ([]byte, string, error) {
		if name, ok := blobs.Resolve(url); ok {
			return blobs.Open(ctx, name)
		}
		return remote.Fetch(ctx, url)
	})
	assets, failed, err := zip.Collect(ctx, urls, fetch, 4)
	if err != nil {
		return err
	}
	for _, f := range failed {
		logger.Warn().Str("url", f).Msg("image skipped")
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		return err
	}
	logger.Info().Str("path", path).Int("images", len(assets)).Msg("archive written")
	return nil
}

func readPrompts(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
