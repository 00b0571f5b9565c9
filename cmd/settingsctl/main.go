package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"imagebatch/internal/infra"
	"imagebatch/internal/settings"
)

func main() {
	var (
		llmProvider   string
		llmKey        string
		imageProvider string
		imageKey      string
		imageBaseURL  string
		imageModel    string
		batchSize     int
		reset         bool
	)
	flag.StringVar(&llmProvider, "llm-provider", "", "prompt expansion backend (openai, gemini or static)")
	flag.StringVar(&llmKey, "llm-key", "", "API key for the prompt backend")
	flag.StringVar(&imageProvider, "image-provider", "", "image generation provider")
	flag.StringVar(&imageKey, "image-key", "", "API key for the image provider")
	flag.StringVar(&imageBaseURL, "image-base-url", "", "base URL for the image provider")
	flag.StringVar(&imageModel, "image-model", "", "image model name")
	flag.IntVar(&batchSize, "batch-size", 0, "concurrent generations per batch")
	flag.BoolVar(&reset, "reset", false, "delete the stored settings so environment defaults apply")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewCLILogger(cfg.AppEnv).With().Str("cmd", "settingsctl").Logger()
	store := settings.NewPostgresStore(infra.NewSQLRunner(pool, logger), settings.Defaults(cfg))
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if reset {
		if err := store.Reset(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to reset settings: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("settings reset to defaults")
		return
	}

	patch := settings.Settings{
		LLM: settings.LLM{Provider: llmProvider, APIKey: llmKey},
		Image: settings.Image{
			Provider: imageProvider,
			APIKey:   imageKey,
			BaseURL:  imageBaseURL,
			Model:    imageModel,
		},
		Common: settings.Common{BatchSize: batchSize},
	}
	next, err := settings.Update(ctx, store, patch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to store settings: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(next.Masked(), "", "  ")
	fmt.Println(string(out))
}
