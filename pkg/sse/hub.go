// Package sse fans events out to Server-Sent Events subscribers.
package sse

import (
	"sync"
)

// Message is one event delivered to subscribers. Structs, maps and slices
// in Data are JSON encoded on the wire; other values are printed.
type Message struct {
	ID    string
	Event string
	Data  any
}

// Hub manages topic based subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan Message]struct{}
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan Message]struct{})}
}

// Subscribe registers a buffered channel on topic. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(topic string, buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan Message]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(topic, ch) })
	}
}

func (h *Hub) remove(topic string, ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	close(ch)
}

// Publish delivers msg to every subscriber of topic and reports how many
// received it.
func (h *Hub) Publish(topic string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.topics[topic] {
		select {
		case ch <- msg:
			delivered++
		default:
			// drop if client not reading
		}
	}
	return delivered
}

// Subscribers reports the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for ch := range subs {
			close(ch)
		}
		delete(h.topics, topic)
	}
}
