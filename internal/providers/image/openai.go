package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOpenAIImageModel = "dall-e-3"
	defaultOpenAISize       = "1024x1024"
	defaultOpenAIQuality    = "standard"
	openAIMaxPerCall        = 10
)

var openAISupportedSizes = map[string]struct{}{
	"1024x1024": {},
	"1792x1024": {},
	"1024x1792": {},
}

// OpenAIOptions configures the OpenAI images adapter.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Blobs          BlobSink
	Logger         *infra.Logger
	MaxRetries     uint64
	RetryBackoff   time.Duration
}

// OpenAIGenerator talks to the one-shot images/generations endpoint.
type OpenAIGenerator struct {
	emitter
	apiKey       string
	baseURL      string
	model        string
	client       *http.Client
	blobs        BlobSink
	logger       *infra.Logger
	maxRetries   uint64
	retryBackoff time.Duration
}

type openAIImageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// NewOpenAIGenerator validates credentials and applies defaults.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai: %w", ErrInvalidConfig, ErrMissingAPIKey)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIImageModel
	}
	return &OpenAIGenerator{
		apiKey:       apiKey,
		baseURL:      baseURL,
		model:        model,
		client:       defaultHTTPClient(opts.HTTPClient, opts.RequestTimeout),
		blobs:        opts.Blobs,
		logger:       loggerOrDiscard(opts.Logger),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
	}, nil
}

// Provider implements Generator.
func (g *OpenAIGenerator) Provider() Provider { return ProviderOpenAI }

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	return g.run(taskID, func() ([]string, error) {
		return g.generate(ctx, taskID, req)
	})
}

func (g *OpenAIGenerator) generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	g.progress(taskID, 0, StagePreparing, "")

	count := req.Count
	if count <= 0 {
		count = 1
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}
	perCall := count
	if model == defaultOpenAIImageModel {
		perCall = 1
	} else if perCall > openAIMaxPerCall {
		perCall = openAIMaxPerCall
	}
	calls := (count + perCall - 1) / perCall
	if len(req.Attachments) > 0 {
		g.logger.Debug().Str("task_id", taskID).Int("attachments", len(req.Attachments)).Msg("openai: attachments are not sent to images/generations")
	}

	payload := openAIImageRequest{
		Model:   model,
		Prompt:  prompt,
		Size:    openAISize(req.Width, req.Height),
		Quality: defaultOpenAIQuality,
	}
	if q := strings.TrimSpace(req.Quality); q != "" {
		payload.Quality = q
	}

	g.progress(taskID, 10, StageGenerating, "")
	images := make([]string, 0, count)
	for i := 0; i < calls; i++ {
		payload.N = perCall
		if remaining := count - len(images); remaining < perCall {
			payload.N = remaining
		}
		urls, err := g.request(ctx, taskID, payload)
		if err != nil {
			return nil, err
		}
		images = append(images, urls...)
		if calls > 1 {
			g.progress(taskID, 80+(i+1)*15/calls, StageProcessing, fmt.Sprintf("%d/%d", i+1, calls))
		}
	}
	g.logger.Debug().Str("task_id", taskID).Str("model", model).Int("images", len(images)).Msg("openai: generated images")
	return images, nil
}

func (g *OpenAIGenerator) request(ctx context.Context, taskID string, payload openAIImageRequest) ([]string, error) {
	var out openAIImageResponse
	err := withRetry(ctx, g.maxRetries, g.retryBackoff, func(ctx context.Context) error {
		return doJSON(ctx, g.client, ProviderOpenAI, http.MethodPost, g.baseURL+"/images/generations", bearer(g.apiKey), payload, &out)
	})
	if err != nil {
		return nil, err
	}
	var urls, inline []string
	for _, item := range out.Data {
		switch {
		case strings.TrimSpace(item.URL) != "":
			urls = append(urls, strings.TrimSpace(item.URL))
		case item.B64JSON != "":
			inline = append(inline, item.B64JSON)
		}
	}
	if len(inline) > 0 {
		refs, err := saveImages(ctx, g.blobs, taskID, inline)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		urls = append(urls, refs...)
	}
	return urls, nil
}

// openAISize maps requested dimensions to a supported size string.
func openAISize(width, height int) string {
	size := sizeString(width, height)
	if _, ok := openAISupportedSizes[size]; ok {
		return size
	}
	return defaultOpenAISize
}

var _ Generator = (*OpenAIGenerator)(nil)
