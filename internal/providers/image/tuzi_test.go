package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func streamServer(t *testing.T, chunks []string, inspect func(*http.Request, tuziChatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body tuziChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestTuziStreamProgressAndResult(t *testing.T) {
	t.Parallel()
	chunks := []string{"排队中\n", "生成中\n", "进度 42\n", "[点击下载](https://x/img.png)\n", "生成完成\n"}
	srv := streamServer(t, chunks, func(r *http.Request, body tuziChatRequest) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if !body.Stream || body.Model != defaultTuziModel {
			t.Errorf("unexpected request: stream=%v model=%q", body.Stream, body.Model)
		}
	})
	defer srv.Close()

	g, err := NewTuziGenerator(TuziOptions{APIKey: "key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTuziGenerator: %v", err)
	}
	rec := &eventRecorder{}
	rec.attach(g)

	images, err := g.Generate(context.Background(), "task-1", Request{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(images) != 1 || images[0] != "https://x/img.png" {
		t.Fatalf("images = %v", images)
	}
	want := []int{5, 10, 42, 95, 100}
	got := rec.percents()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	results := rec.terminal()
	if len(results) != 1 || !results[0].Success || fmt.Sprint(results[0].Images) != "[https://x/img.png]" {
		t.Fatalf("terminal = %+v", results)
	}
}

func TestTuziSplitMarkersAndDuplicateLinks(t *testing.T) {
	t.Parallel()
	chunks := []string{"进", "度 30\n[点击下载](https://x/1", ".png)\n", "[点击下载](https://x/1.png)\n", "[点击下载](https://x/2.png)"}
	srv := streamServer(t, chunks, nil)
	defer srv.Close()

	g, _ := NewTuziGenerator(TuziOptions{APIKey: "key", BaseURL: srv.URL})
	rec := &eventRecorder{}
	rec.attach(g)

	images, err := g.Generate(context.Background(), "task-1", Request{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fmt.Sprint(images) != "[https://x/1.png https://x/2.png]" {
		t.Fatalf("images = %v", images)
	}
	if got := rec.percents(); !nonDecreasing(got) || got[len(got)-1] != 100 {
		t.Fatalf("progress = %v", got)
	}
}

func TestTuziNoImagesFails(t *testing.T) {
	t.Parallel()
	srv := streamServer(t, []string{"排队中\n", "生成中\n", "生成完成\n"}, nil)
	defer srv.Close()

	g, _ := NewTuziGenerator(TuziOptions{APIKey: "key", BaseURL: srv.URL})
	rec := &eventRecorder{}
	rec.attach(g)

	_, err := g.Generate(context.Background(), "task-1", Request{Prompt: "a cat"})
	if !errors.Is(err, ErrNoImages) {
		t.Fatalf("error = %v, want ErrNoImages", err)
	}
	results := rec.terminal()
	if len(results) != 1 || results[0].Success || results[0].Error != "No images generated" {
		t.Fatalf("terminal = %+v", results)
	}
	for _, p := range rec.percents() {
		if p == 100 {
			t.Fatalf("progress reached 100 on failure: %v", rec.percents())
		}
	}
}

func TestTuziContentParts(t *testing.T) {
	t.Parallel()
	var (
		mu       sync.Mutex
		captured tuziChatRequest
	)
	srv := streamServer(t, []string{"[点击下载](https://x/1.png)\n"}, func(_ *http.Request, body tuziChatRequest) {
		mu.Lock()
		captured = body
		mu.Unlock()
	})
	defer srv.Close()

	g, _ := NewTuziGenerator(TuziOptions{APIKey: "key", BaseURL: srv.URL, Model: "custom"})
	_, err := g.Generate(context.Background(), "task-1", Request{
		Prompt:      "restyle 图1",
		Count:       2,
		Attachments: []Attachment{{Name: "0.png", MIME: "image/jpeg", Data: []byte("jpegdata")}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	parts := captured.Messages[0].Content
	if len(parts) != 2 {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].Type != "text" || parts[0].Text != "restyle 图1\n 生成2张" {
		t.Fatalf("text part = %+v", parts[0])
	}
	if parts[1].Type != "image_url" || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("image part = %+v", parts[1])
	}
	if captured.Model != "custom" {
		t.Fatalf("model = %q", captured.Model)
	}
}

func TestTuziHTTPErrorFails(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	g, _ := NewTuziGenerator(TuziOptions{APIKey: "bad", BaseURL: srv.URL})
	rec := &eventRecorder{}
	rec.attach(g)

	_, err := g.Generate(context.Background(), "task-1", Request{Prompt: "x"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want 401 StatusError", err)
	}
	if results := rec.terminal(); len(results) != 1 || !strings.Contains(results[0].Error, "invalid api key") {
		t.Fatalf("terminal = %+v", results)
	}
}
