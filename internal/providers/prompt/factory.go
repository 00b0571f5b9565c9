package prompt

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

// Config selects the expansion backend.
type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	// FallbackToStatic serves failed LLM expansions with StaticExpander.
	FallbackToStatic bool
}

// Deps are optional collaborators for LLM backed expanders.
type Deps struct {
	HTTPClient   *http.Client
	Logger       *infra.Logger
	MaxRetries   uint64
	RetryBackoff time.Duration
}

// New returns the expander for cfg. An empty provider picks openai when a key
// is present and the static expander otherwise.
func New(cfg Config, deps Deps) (Expander, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "static"
		if strings.TrimSpace(cfg.APIKey) != "" {
			provider = "openai"
		}
	}
	var fallback Expander
	if cfg.FallbackToStatic {
		fallback = NewStaticExpander()
	}
	switch provider {
	case "static":
		return NewStaticExpander(), nil
	case "openai":
		return NewOpenAIExpander(OpenAIOptions{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Organization: cfg.Organization,
			HTTPClient:   deps.HTTPClient,
			MaxRetries:   deps.MaxRetries,
			RetryBackoff: deps.RetryBackoff,
			Fallback:     fallback,
			Logger:       deps.Logger,
		})
	case "gemini":
		return NewGeminiExpander(GeminiOptions{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			HTTPClient:   deps.HTTPClient,
			MaxRetries:   deps.MaxRetries,
			RetryBackoff: deps.RetryBackoff,
			Fallback:     fallback,
			Logger:       deps.Logger,
		})
	}
	return nil, fmt.Errorf("prompt: unsupported provider %q", cfg.Provider)
}
