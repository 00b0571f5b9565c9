package prompt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"imagebatch/internal/infra"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-3.5-turbo"
)

// OpenAIOptions configures a chat completions backend. BaseURL may point
// at any OpenAI compatible gateway.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	HTTPClient   *http.Client
	MaxRetries   uint64
	RetryBackoff time.Duration
	Fallback     Expander
	OnFallback   func(reason string, err error)
	Logger       *infra.Logger
}

type openAICompleter struct {
	apiKey  string
	baseURL string
	model   string
	org     string
	client  *http.Client
	retries uint64
	backoff time.Duration
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIExpander builds an LLMExpander backed by /chat/completions.
func NewOpenAIExpander(opts OpenAIOptions) (*LLMExpander, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	backend := &openAICompleter{
		apiKey:  key,
		baseURL: strings.TrimRight(coalesce(opts.BaseURL, defaultOpenAIBaseURL), "/"),
		model:   coalesce(opts.Model, defaultOpenAIModel),
		org:     strings.TrimSpace(opts.Organization),
		client:  client,
		retries: opts.MaxRetries,
		backoff: opts.RetryBackoff,
	}
	return &LLMExpander{
		backend:    backend,
		fallback:   opts.Fallback,
		onFallback: opts.OnFallback,
		logger:     loggerOrNop(opts.Logger),
	}, nil
}

func (c *openAICompleter) name() string { return "openai" }

func (c *openAICompleter) complete(ctx context.Context, in completion) (string, error) {
	var messages []openAIMessage
	if in.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: in.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: in.User})

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if c.org != "" {
		headers["OpenAI-Organization"] = c.org
	}
	var out openAIChatResponse
	err := postJSON(ctx, c.client, c.name(), c.baseURL+"/chat/completions", headers, openAIChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}, &out, c.retries, c.backoff)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}
