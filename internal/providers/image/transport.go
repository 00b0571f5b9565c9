package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"imagebatch/internal/infra"
)

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxErrorBody        = 4 << 10
)

// StatusError reports a non-2xx response from a provider.
type StatusError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type apiErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

// readStatusError extracts the most useful message from an error response.
func readStatusError(provider Provider, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Provider: provider, StatusCode: resp.StatusCode}
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		switch {
		case len(body.Error) > 0 && json.Unmarshal(body.Error, &nested) == nil && nested.Message != "":
			se.Message = nested.Message
		case len(body.Error) > 0 && body.Error[0] == '"':
			_ = json.Unmarshal(body.Error, &se.Message)
		case body.Message != "":
			se.Message = body.Message
		case body.Detail != "":
			se.Message = body.Detail
		}
	}
	if se.Message == "" {
		se.Message = strings.TrimSpace(string(raw))
	}
	return se
}

// doJSON sends payload as JSON and decodes a successful response into out.
func doJSON(ctx context.Context, client *http.Client, provider Provider, method, endpoint string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", provider, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("%s: http request: %w", provider, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readStatusError(provider, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var te *transportError
	return errors.As(err, &te)
}

// withRetry repeats fn on transient failures with exponential backoff.
func withRetry(ctx context.Context, attempts uint64, base time.Duration, fn func(context.Context) error) error {
	if attempts == 0 {
		return fn(ctx)
	}
	if base <= 0 {
		base = defaultRetryBackoff
	}
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// defaultHTTPClient applies no timeout unless one is requested; a hung call
// holds its slot until the provider answers.
func defaultHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeout}
}

func loggerOrDiscard(logger *infra.Logger) *infra.Logger {
	if logger != nil {
		return logger
	}
	discard := zerolog.New(io.Discard)
	l := infra.Logger(discard)
	return &l
}

func bearer(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

// saveImages stores decoded base64 payloads and returns their references.
func saveImages(ctx context.Context, sink BlobSink, taskID string, payloads []string) ([]string, error) {
	if sink == nil {
		return nil, errors.New("no blob store configured for inline images")
	}
	refs := make([]string, 0, len(payloads))
	for i, p := range payloads {
		data, mime, err := decodeBase64(p)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		ref, err := sink.SaveBlob(ctx, taskID, data, mime)
		if err != nil {
			return nil, fmt.Errorf("store image %d: %w", i+1, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
