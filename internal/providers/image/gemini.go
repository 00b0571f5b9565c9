package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
	"imagebatch/internal/providers/genai"
)

// geminiClient is the subset of genai.Client the adapter relies on.
type geminiClient interface {
	GenerateImages(ctx context.Context, req genai.ImageRequest) ([]genai.ImageAsset, error)
	Model() string
}

// GeminiOptions configures the Gemini adapter.
type GeminiOptions struct {
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

// GeminiGenerator requests one image per generateContent call.
type GeminiGenerator struct {
	emitter
	client       geminiClient
	blobs        BlobSink
	logger       *infra.Logger
	maxRetries   uint64
	retryBackoff time.Duration
}

// NewGeminiGenerator builds the underlying genai client.
func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	client, err := genai.NewClient(genai.Options{
		APIKey:     opts.APIKey,
		BaseURL:    opts.BaseURL,
		Model:      opts.Model,
		HTTPClient: defaultHTTPClient(opts.HTTPClient, opts.RequestTimeout),
		Logger:     opts.Logger,
	})
	if err != nil {
		if errors.Is(err, genai.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w: gemini: %w", ErrInvalidConfig, ErrMissingAPIKey)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return newGeminiGenerator(client, opts), nil
}

func newGeminiGenerator(client geminiClient, opts GeminiOptions) *GeminiGenerator {
	return &GeminiGenerator{
		client:       client,
		blobs:        opts.Blobs,
		logger:       loggerOrDiscard(opts.Logger),
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
	}
}

// Provider implements Generator.
func (g *GeminiGenerator) Provider() Provider { return ProviderGemini }

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	return g.run(taskID, func() ([]string, error) {
		return g.generate(ctx, taskID, req)
	})
}

func (g *GeminiGenerator) generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	g.progress(taskID, 0, StagePreparing, "")
	count := req.Count
	if count <= 0 {
		count = 1
	}
	inline := make([]genai.InlineImage, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		inline = append(inline, genai.InlineImage{MIME: a.MIME, Data: a.Data})
	}

	g.progress(taskID, 10, StageGenerating, "")
	refs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var assets []genai.ImageAsset
		err := withRetry(ctx, g.maxRetries, g.retryBackoff, func(ctx context.Context) error {
			var err error
			assets, err = g.client.GenerateImages(ctx, genai.ImageRequest{Prompt: prompt, Images: inline, Model: req.Model})
			var se *genai.StatusError
			if errors.As(err, &se) {
				return &StatusError{Provider: ProviderGemini, StatusCode: se.StatusCode, Message: se.Message}
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, asset := range assets {
			if asset.URL != "" && len(asset.Data) == 0 {
				refs = append(refs, asset.URL)
				continue
			}
			if g.blobs == nil {
				return nil, fmt.Errorf("gemini: no blob store configured for inline images")
			}
			ref, err := g.blobs.SaveBlob(ctx, taskID, asset.Data, asset.Format)
			if err != nil {
				return nil, fmt.Errorf("gemini: store image: %w", err)
			}
			refs = append(refs, ref)
		}
		if count > 1 {
			g.progress(taskID, 80+(i+1)*15/count, StageProcessing, fmt.Sprintf("%d/%d", i+1, count))
		}
	}
	g.logger.Debug().Str("task_id", taskID).Str("model", g.client.Model()).Int("images", len(refs)).Msg("gemini: generated images")
	return refs, nil
}

var _ Generator = (*GeminiGenerator)(nil)
