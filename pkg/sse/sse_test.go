package sse

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHubPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	a, cancelA := hub.Subscribe("batch", 4)
	b, cancelB := hub.Subscribe("batch", 4)
	_, cancelOther := hub.Subscribe("other", 4)
	defer cancelOther()

	if n := hub.Publish("batch", Message{Event: "x", Data: "1"}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if msg := <-a; msg.Data != "1" {
		t.Fatalf("a got %+v", msg)
	}
	if msg := <-b; msg.Event != "x" {
		t.Fatalf("b got %+v", msg)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("channel still open after cancel")
	}
	if hub.Subscribers("batch") != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers("batch"))
	}
	cancelB()
	if hub.Subscribers("batch") != 0 {
		t.Fatalf("topic not removed")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	ch, cancel := hub.Subscribe("t", 1)
	defer cancel()

	hub.Publish("t", Message{Data: "first"})
	if n := hub.Publish("t", Message{Data: "second"}); n != 0 {
		t.Fatalf("delivered = %d, want 0 for a full buffer", n)
	}
	if msg := <-ch; msg.Data != "first" {
		t.Fatalf("got %+v", msg)
	}
}

func TestHubClose(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	ch, cancel := hub.Subscribe("t", 1)
	hub.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after Close")
	}
	cancel()
	late, _ := hub.Subscribe("t", 1)
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after Close must return a closed channel")
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := Encode(&buf, Message{ID: "7", Event: "task.progress", Data: map[string]int{"percent": 42}}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"id:7\n", "event:task.progress\n", `data:{"percent":42}`} {
		if !strings.Contains(got, want) {
			t.Fatalf("encoded %q missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Fatalf("event not terminated: %q", got)
	}
}

func TestStreamWritesUntilClosed(t *testing.T) {
	t.Parallel()
	sub := make(chan Message, 2)
	sub <- Message{Event: "batch.state", Data: map[string]bool{"active": true}}
	close(sub)

	rec := httptest.NewRecorder()
	if err := Stream(context.Background(), rec, sub, time.Hour); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("status = %d headers = %v", rec.Code, rec.Header())
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, ": connected\n\n") || !strings.Contains(body, "event:batch.state\n") {
		t.Fatalf("body = %q", body)
	}
}

func TestStreamStopsOnContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, httptest.NewRecorder(), make(chan Message), 0)
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stream did not return after cancel")
	}
}
