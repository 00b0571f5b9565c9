package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"imagebatch/internal/infra"
)

const defaultRetryBackoff = 500 * time.Millisecond

// completion is one chat turn sent to a backend.
type completion struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// completer is the backend specific half of an LLMExpander.
type completer interface {
	complete(ctx context.Context, c completion) (string, error)
	name() string
}

// LLMExpander expands prompts through a chat model. When Fallback is set a
// failed expansion is served by it instead of returning an error.
type LLMExpander struct {
	backend    completer
	fallback   Expander
	onFallback func(reason string, err error)
	logger     *infra.Logger
}

// Backend reports the configured backend name.
func (e *LLMExpander) Backend() string { return e.backend.name() }

// Expand asks the model for a JSON task list.
func (e *LLMExpander) Expand(ctx context.Context, req Request) ([]Draft, error) {
	intent := strings.TrimSpace(req.Prompt)
	if intent == "" {
		return nil, ErrNoTasks
	}
	text, err := e.backend.complete(ctx, completion{
		User:        buildTaskInstruction(intent, req.UploadedCount),
		Temperature: 1,
		MaxTokens:   2000,
	})
	if err != nil {
		return e.useFallback(ctx, req, "request", err)
	}
	drafts, err := parseTaskList(text, req.UploadedCount)
	if err != nil {
		e.logger.Debug().Str("backend", e.backend.name()).Str("response", text).Msg("prompt: unparseable task list")
		return e.useFallback(ctx, req, "parse", err)
	}
	return drafts, nil
}

// Improve rewrites a prompt with more visual detail. Any failure returns the
// input unchanged.
func (e *LLMExpander) Improve(ctx context.Context, prompt string) (string, error) {
	original := strings.TrimSpace(prompt)
	if original == "" {
		return "", ErrNoTasks
	}
	text, err := e.backend.complete(ctx, completion{
		System:      improveSystemPrompt,
		User:        original,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	improved := strings.TrimSpace(trimCodeFence(text))
	if err != nil || improved == "" {
		e.logger.Warn().Err(err).Str("backend", e.backend.name()).Msg("prompt: improve failed, keeping original")
		return original, nil
	}
	return improved, nil
}

func (e *LLMExpander) useFallback(ctx context.Context, req Request, reason string, cause error) ([]Draft, error) {
	if e.onFallback != nil {
		e.onFallback(reason, cause)
	}
	if e.fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrExpansionFailed, cause)
	}
	e.logger.Warn().Err(cause).Str("reason", reason).Msg("prompt: using fallback expander")
	return e.fallback.Expand(ctx, req)
}

var _ Expander = (*LLMExpander)(nil)

// statusError is a non-2xx answer from a backend.
type statusError struct {
	backend string
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.backend, e.code, e.message)
}

func (e *statusError) transient() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// postJSON sends payload and decodes the 2xx body into out, retrying
// rate limits, server errors and transport failures.
func postJSON(ctx context.Context, client *http.Client, backend, endpoint string, headers map[string]string, payload, out any, maxRetries uint64, backoff time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", backend, err)
	}
	attempt := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			se := &statusError{backend: backend, code: resp.StatusCode, message: strings.TrimSpace(string(raw))}
			if se.transient() {
				return retry.RetryableError(se)
			}
			return se
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", backend, err)
		}
		return nil
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return retry.Do(ctx, retry.WithMaxRetries(maxRetries, retry.NewExponential(backoff)), attempt)
}

func loggerOrNop(logger *infra.Logger) *infra.Logger {
	if logger != nil {
		return logger
	}
	nop := zerolog.Nop()
	return &nop
}
