package image

import (
	"context"
	"fmt"
	"sync"
)

type eventRecorder struct {
	mu       sync.Mutex
	progress []Progress
	results  []Result
}

func (r *eventRecorder) attach(g Generator) {
	g.SetProgressHandler(func(p Progress) {
		r.mu.Lock()
		r.progress = append(r.progress, p)
		r.mu.Unlock()
	})
	g.SetCompleteHandler(func(res Result) {
		r.mu.Lock()
		r.results = append(r.results, res)
		r.mu.Unlock()
	})
}

func (r *eventRecorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.progress))
	for _, p := range r.progress {
		out = append(out, p.Percent)
	}
	return out
}

func (r *eventRecorder) terminal() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func nonDecreasing(values []int) bool {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return true
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memBlobs) SaveBlob(_ context.Context, taskID string, data []byte, mime string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = make(map[string][]byte)
	}
	ref := fmt.Sprintf("blob://%s/%d", taskID, len(m.blobs))
	m.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}
