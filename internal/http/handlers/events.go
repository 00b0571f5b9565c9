package handlers

import (
	"net/http"

	"imagebatch/internal/batch"
	"imagebatch/pkg/sse"
)

// Events streams batch and task events. The first event is a snapshot of
// the run state.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	sub, cancel := a.Hub.Subscribe(EventsTopic, 64)
	defer cancel()

	state := a.Batch.State()
	snapshot := make(chan sse.Message, 1)
	snapshot <- sse.Message{Event: string(batch.EventState), Data: batch.Event{Type: batch.EventState, State: &state}}
	close(snapshot)

	merged := make(chan sse.Message)
	go func() {
		defer close(merged)
		for _, src := range []<-chan sse.Message{snapshot, sub} {
			for msg := range src {
				select {
				case merged <- msg:
				case <-r.Context().Done():
					return
				}
			}
		}
	}()

	if err := sse.Stream(r.Context(), w, merged, a.KeepAlive); err != nil {
		a.log(r.Context()).Debug().Err(err).Msg("event stream ended")
	}
}
