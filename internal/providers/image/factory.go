package image

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

// Config selects a provider and carries its credentials.
type Config struct {
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
}

// Deps are optional collaborators shared by every adapter built by NewGenerator.
type Deps struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Blobs          BlobSink
	Logger         *infra.Logger
	MaxRetries     uint64
	RetryBackoff   time.Duration
}

// Factory builds a fresh adapter per call.
type Factory func(Config) (Generator, error)

// NewFactory binds deps into a Factory.
func NewFactory(deps Deps) Factory {
	return func(cfg Config) (Generator, error) {
		return NewGenerator(cfg, deps)
	}
}

// NewGenerator constructs the adapter for cfg.Provider. It performs no I/O.
func NewGenerator(cfg Config, deps Deps) (Generator, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	model := strings.TrimSpace(cfg.Model)
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIGenerator(OpenAIOptions{
			APIKey:         apiKey,
			BaseURL:        baseURL,
			Model:          model,
			HTTPClient:     deps.HTTPClient,
			RequestTimeout: deps.RequestTimeout,
			Blobs:          deps.Blobs,
			Logger:         deps.Logger,
			MaxRetries:     deps.MaxRetries,
			RetryBackoff:   deps.RetryBackoff,
		})
	case ProviderStableDiffusion:
		return NewStableDiffusionGenerator(StableDiffusionOptions{
			BaseURL:        baseURL,
			Model:          model,
			HTTPClient:     deps.HTTPClient,
			RequestTimeout: deps.RequestTimeout,
			Blobs:          deps.Blobs,
			Logger:         deps.Logger,
		})
	case ProviderTuzi:
		return NewTuziGenerator(TuziOptions{
			APIKey:         apiKey,
			BaseURL:        baseURL,
			Model:          model,
			HTTPClient:     deps.HTTPClient,
			RequestTimeout: deps.RequestTimeout,
			Logger:         deps.Logger,
		})
	case ProviderGemini:
		return NewGeminiGenerator(GeminiOptions{
			APIKey:         apiKey,
			BaseURL:        baseURL,
			Model:          model,
			HTTPClient:     deps.HTTPClient,
			RequestTimeout: deps.RequestTimeout,
			Blobs:          deps.Blobs,
			Logger:         deps.Logger,
			MaxRetries:     deps.MaxRetries,
			RetryBackoff:   deps.RetryBackoff,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
}
