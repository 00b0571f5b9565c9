package image

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"imagebatch/internal/providers/genai"
)

type stubGemini struct {
	mu       sync.Mutex
	calls    int
	requests []genai.ImageRequest
	respond  func(call int) ([]genai.ImageAsset, error)
}

func (s *stubGemini) GenerateImages(_ context.Context, req genai.ImageRequest) ([]genai.ImageAsset, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.respond(call)
}

func (s *stubGemini) Model() string { return genai.DefaultModel }

func TestNewGeminiGeneratorRequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := NewGeminiGenerator(GeminiOptions{})
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v, want invalid config with missing api key", err)
	}
}

func TestGeminiOneCallPerImage(t *testing.T) {
	t.Parallel()
	stub := &stubGemini{respond: func(int) ([]genai.ImageAsset, error) {
		return []genai.ImageAsset{{Format: "image/png", Data: []byte("png")}}, nil
	}}
	blobs := &memBlobs{}
	g := newGeminiGenerator(stub, GeminiOptions{Blobs: blobs})
	rec := &eventRecorder{}
	rec.attach(g)

	images, err := g.Generate(context.Background(), "t1", Request{
		Prompt:      "combine",
		Count:       2,
		Attachments: []Attachment{{MIME: "image/webp", Data: []byte("ref")}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(images) != 2 || stub.calls != 2 {
		t.Fatalf("images = %v calls = %d", images, stub.calls)
	}
	if got := stub.requests[0].Images; len(got) != 1 || got[0].MIME != "image/webp" {
		t.Fatalf("inline images = %+v", got)
	}
	if got := rec.percents(); !nonDecreasing(got) || got[len(got)-1] != 100 {
		t.Fatalf("progress = %v", got)
	}
}

func TestGeminiRetriesRateLimit(t *testing.T) {
	t.Parallel()
	stub := &stubGemini{respond: func(call int) ([]genai.ImageAsset, error) {
		if call == 1 {
			return nil, &genai.StatusError{StatusCode: http.StatusTooManyRequests, Message: "quota"}
		}
		return []genai.ImageAsset{{URL: "https://img/1.png"}}, nil
	}}
	g := newGeminiGenerator(stub, GeminiOptions{MaxRetries: 1, RetryBackoff: time.Millisecond})

	images, err := g.Generate(context.Background(), "t1", Request{Prompt: "x"})
	if err != nil || len(images) != 1 || images[0] != "https://img/1.png" {
		t.Fatalf("Generate = (%v, %v)", images, err)
	}
}

func TestGeminiSurfacesStatusError(t *testing.T) {
	t.Parallel()
	stub := &stubGemini{respond: func(int) ([]genai.ImageAsset, error) {
		return nil, &genai.StatusError{StatusCode: http.StatusForbidden, Message: "permission denied"}
	}}
	g := newGeminiGenerator(stub, GeminiOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})
	rec := &eventRecorder{}
	rec.attach(g)

	_, err := g.Generate(context.Background(), "t1", Request{Prompt: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("error = %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1", stub.calls)
	}
	if results := rec.terminal(); len(results) != 1 || results[0].Success {
		t.Fatalf("terminal = %+v", results)
	}
}
