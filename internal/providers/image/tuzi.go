package image

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

const (
	defaultTuziBaseURL = "https://api.tu-zi.com/v1"
	defaultTuziModel   = "gpt-4o-image"
	defaultTuziCount   = 4
)

// TuziOptions configures the streamed chat adapter.
type TuziOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// TuziGenerator drives an OpenAI-compatible chat endpoint that reports
// progress and download links inside a streamed reply.
type TuziGenerator struct {
	emitter
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  *infra.Logger
}

type tuziChatRequest struct {
	Model    string        `json:"model"`
	Messages []tuziMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type tuziMessage struct {
	Role    string            `json:"role"`
	Content []tuziContentPart `json:"content"`
}

type tuziContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *tuziImageURL `json:"image_url,omitempty"`
}

type tuziImageURL struct {
	URL string `json:"url"`
}

type tuziStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewTuziGenerator validates credentials and applies defaults.
func NewTuziGenerator(opts TuziOptions) (*TuziGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: tuzi: %w", ErrInvalidConfig, ErrMissingAPIKey)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTuziBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultTuziModel
	}
	return &TuziGenerator{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  defaultHTTPClient(opts.HTTPClient, opts.RequestTimeout),
		logger:  loggerOrDiscard(opts.Logger),
	}, nil
}

// Provider implements Generator.
func (g *TuziGenerator) Provider() Provider { return ProviderTuzi }

// Generate implements Generator.
func (g *TuziGenerator) Generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	return g.run(taskID, func() ([]string, error) {
		return g.generate(ctx, taskID, req)
	})
}

func (g *TuziGenerator) generate(ctx context.Context, taskID string, req Request) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}
	body, err := json.Marshal(tuziChatRequest{
		Model:    model,
		Messages: []tuziMessage{{Role: "user", Content: buildTuziContent(prompt, req)}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("tuzi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tuzi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tuzi: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, readStatusError(ProviderTuzi, resp)
	}

	collector := &linkCollector{}
	var scanner StreamScanner
	var full strings.Builder
	err = readChatStream(resp.Body, func(content string) {
		full.WriteString(content)
		for _, m := range scanner.Feed(content) {
			g.apply(taskID, m, collector)
		}
	})
	for _, m := range scanner.Flush() {
		g.apply(taskID, m, collector)
	}
	if err != nil {
		return nil, err
	}
	if len(collector.urls) == 0 {
		for _, u := range extractDownloadLinks(full.String()) {
			collector.add(u)
		}
	}
	if len(collector.urls) == 0 {
		g.logger.Warn().Str("task_id", taskID).Int("reply_bytes", full.Len()).Msg("tuzi: stream ended without download links")
		return nil, ErrNoImages
	}
	return collector.urls, nil
}

func (g *TuziGenerator) apply(taskID string, m Marker, collector *linkCollector) {
	switch m.Kind {
	case MarkerQueued:
		g.progress(taskID, m.Percent, StagePreparing, m.Line)
	case MarkerGenerating, MarkerProgress:
		g.progress(taskID, m.Percent, StageGenerating, m.Line)
	case MarkerImage:
		if collector.add(m.URL) {
			g.progress(taskID, m.Percent, StageProcessing, m.URL)
		}
	case MarkerDone:
		// 100 is reported together with the success event once the stream closes.
	}
}

func buildTuziContent(prompt string, req Request) []tuziContentPart {
	count := req.Count
	if count <= 0 {
		count = defaultTuziCount
	}
	parts := []tuziContentPart{{Type: "text", Text: fmt.Sprintf("%s\n 生成%d张", prompt, count)}}
	for _, a := range req.Attachments {
		if len(a.Data) == 0 {
			continue
		}
		parts = append(parts, tuziContentPart{Type: "image_url", ImageURL: &tuziImageURL{URL: dataURL(a)}})
	}
	return parts
}

// readChatStream decodes server-sent chat completion chunks and hands every
// content delta to fn in arrival order.
func readChatStream(r io.Reader, fn func(content string)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if data != "" {
				var chunk tuziStreamChunk
				if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
					return fmt.Errorf("tuzi: decode stream chunk: %w", jerr)
				}
				if chunk.Error != nil && chunk.Error.Message != "" {
					return fmt.Errorf("tuzi: %s", chunk.Error.Message)
				}
				for _, c := range chunk.Choices {
					if c.Delta.Content != "" {
						fn(c.Delta.Content)
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("tuzi: read stream: %w", err)
		}
	}
}

type linkCollector struct {
	urls []string
	seen map[string]struct{}
}

func (c *linkCollector) add(url string) bool {
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[url]; ok {
		return false
	}
	c.seen[url] = struct{}{}
	c.urls = append(c.urls, url)
	return true
}

var _ Generator = (*TuziGenerator)(nil)
