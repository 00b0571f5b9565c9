package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func chatReply(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(raw)
}

func TestNewOpenAIExpanderRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewOpenAIExpander(OpenAIOptions{APIKey: "  "}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestOpenAIExpandRequest(t *testing.T) {
	t.Parallel()
	var captured openAIChatRequest
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != "https://gateway.local/v1/chat/completions" {
			t.Errorf("url = %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer sk" || r.Header.Get("OpenAI-Organization") != "org-1" {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return jsonResponse(http.StatusOK, chatReply("```json\n[{\"prompt\":\"a\",\"attachment\":[\"0.png\"]},{\"prompt\":\"b\"}]\n```")), nil
	})}
	e, err := NewOpenAIExpander(OpenAIOptions{APIKey: "sk", BaseURL: "https://gateway.local/v1/", Organization: "org-1", HTTPClient: client})
	if err != nil {
		t.Fatalf("NewOpenAIExpander: %v", err)
	}
	drafts, err := e.Expand(context.Background(), Request{Prompt: "two styles", UploadedCount: 1})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(drafts) != 2 || drafts[0].ImageIndexes[0] != 0 || drafts[1].Prompt != "b" {
		t.Fatalf("drafts = %+v", drafts)
	}
	if captured.Model != defaultOpenAIModel || captured.Temperature != 1 || captured.MaxTokens != 2000 {
		t.Fatalf("request = %+v", captured)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" || !strings.Contains(captured.Messages[0].Content, "###\ntwo styles\n###") {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestExpandFailureWithoutFallback(t *testing.T) {
	t.Parallel()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, chatReply("I cannot do that")), nil
	})}
	e, _ := NewOpenAIExpander(OpenAIOptions{APIKey: "sk", HTTPClient: client})
	if _, err := e.Expand(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrExpansionFailed) {
		t.Fatalf("error = %v, want ErrExpansionFailed", err)
	}
}

func TestExpandFallsBack(t *testing.T) {
	t.Parallel()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`), nil
	})}
	var (
		mu      sync.Mutex
		reasons []string
	)
	e, _ := NewOpenAIExpander(OpenAIOptions{
		APIKey:     "sk",
		HTTPClient: client,
		Fallback:   NewStaticExpander(),
		OnFallback: func(reason string, _ error) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		},
	})
	drafts, err := e.Expand(context.Background(), Request{Prompt: "one\ntwo"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("drafts = %+v", drafts)
	}
	if len(reasons) != 1 || reasons[0] != "request" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestExpandRetriesTransientStatus(t *testing.T) {
	t.Parallel()
	var calls int
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(http.StatusTooManyRequests, `{}`), nil
		}
		return jsonResponse(http.StatusOK, chatReply(`[{"prompt":"ok"}]`)), nil
	})}
	e, _ := NewOpenAIExpander(OpenAIOptions{APIKey: "sk", HTTPClient: client, MaxRetries: 2, RetryBackoff: time.Millisecond})
	drafts, err := e.Expand(context.Background(), Request{Prompt: "x"})
	if err != nil || len(drafts) != 1 {
		t.Fatalf("Expand = (%+v, %v)", drafts, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestImproveUsesSystemPrompt(t *testing.T) {
	t.Parallel()
	var captured openAIChatRequest
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return jsonResponse(http.StatusOK, chatReply("  A majestic cat, golden hour lighting  ")), nil
	})}
	e, _ := NewOpenAIExpander(OpenAIOptions{APIKey: "sk", HTTPClient: client})
	got, err := e.Improve(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("Improve: %v", err)
	}
	if got != "A majestic cat, golden hour lighting" {
		t.Fatalf("improved = %q", got)
	}
	if captured.Temperature != 0.7 || captured.MaxTokens != 500 {
		t.Fatalf("request = %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Content != improveSystemPrompt || captured.Messages[1].Content != "a cat" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
}

func TestImproveKeepsOriginalOnError(t *testing.T) {
	t.Parallel()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{}`), nil
	})}
	e, _ := NewOpenAIExpander(OpenAIOptions{APIKey: "sk", HTTPClient: client})
	got, err := e.Improve(context.Background(), " a cat ")
	if err != nil || got != "a cat" {
		t.Fatalf("Improve = (%q, %v)", got, err)
	}
}

func TestGeminiExpand(t *testing.T) {
	t.Parallel()
	var captured geminiRequest
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "gk" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"[{\"prompt\":"},{"text":"\"red\"}]"}]}}]}`), nil
	})}
	e, err := NewGeminiExpander(GeminiOptions{APIKey: "gk", HTTPClient: client})
	if err != nil {
		t.Fatalf("NewGeminiExpander: %v", err)
	}
	if e.Backend() != "gemini" {
		t.Fatalf("backend = %q", e.Backend())
	}
	drafts, err := e.Expand(context.Background(), Request{Prompt: "colors"})
	if err != nil || len(drafts) != 1 || drafts[0].Prompt != "red" {
		t.Fatalf("Expand = (%+v, %v)", drafts, err)
	}
	if captured.SystemInstruction != nil || captured.GenerationConfig.MaxOutputTokens != 2000 {
		t.Fatalf("request = %+v", captured)
	}
}

func TestGeminiImproveSendsSystemInstruction(t *testing.T) {
	t.Parallel()
	var captured geminiRequest
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"better"}]}}]}`), nil
	})}
	e, _ := NewGeminiExpander(GeminiOptions{APIKey: "gk", HTTPClient: client, Model: "gemini-2.0-flash"})
	got, _ := e.Improve(context.Background(), "ok")
	if got != "better" {
		t.Fatalf("improved = %q", got)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != improveSystemPrompt {
		t.Fatalf("system instruction = %+v", captured.SystemInstruction)
	}
}
