package prompt

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiOptions configures a generateContent backend.
type GeminiOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	HTTPClient   *http.Client
	MaxRetries   uint64
	RetryBackoff time.Duration
	Fallback     Expander
	OnFallback   func(reason string, err error)
	Logger       *infra.Logger
}

type geminiCompleter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	retries uint64
	backoff time.Duration
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiExpander builds an LLMExpander backed by Gemini generateContent.
func NewGeminiExpander(opts GeminiOptions) (*LLMExpander, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &LLMExpander{
		backend: &geminiCompleter{
			apiKey:  key,
			baseURL: strings.TrimRight(coalesce(opts.BaseURL, defaultGeminiBaseURL), "/"),
			model:   coalesce(opts.Model, defaultGeminiModel),
			client:  client,
			retries: opts.MaxRetries,
			backoff: opts.RetryBackoff,
		},
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
		logger:     loggerOrNop(opts.Logger),
	}, nil
}

func (c *geminiCompleter) name() string { return "gemini" }

func (c *geminiCompleter) complete(ctx context.Context, in completion) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: in.User}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     in.Temperature,
			MaxOutputTokens: in.MaxTokens,
		},
	}
	if in.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: in.System}}}
	}
	endpoint := c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent"
	var out geminiResponse
	if err := postJSON(ctx, c.client, c.name(), endpoint, map[string]string{"x-goog-api-key": c.apiKey}, req, &out, c.retries, c.backoff); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini: empty candidates")
	}
	return sb.String(), nil
}
