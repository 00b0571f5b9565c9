package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	ginsse "github.com/gin-contrib/sse"
)

// Stream writes messages from sub to w until ctx ends or sub is closed.
// A comment line is sent every keepAlive to hold idle proxies open; zero
// disables it.
func Stream(ctx context.Context, w http.ResponseWriter, sub <-chan Message, keepAlive time.Duration) error {
	rc := http.NewResponseController(w)
	// Event streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", ginsse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("sse: streaming unsupported: %w", err)
	}

	var tick <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			if err := Encode(w, msg); err != nil {
				return err
			}
		}
		if err := rc.Flush(); err != nil {
			return err
		}
	}
}

// Encode writes one message in text/event-stream framing.
func Encode(w io.Writer, msg Message) error {
	return ginsse.Encode(w, ginsse.Event{
		Id:    msg.ID,
		Event: msg.Event,
		Data:  msg.Data,
	})
}
