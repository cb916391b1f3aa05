package broadcast

import (
	"sync"
	"sync/atomic"
)

// Subscription receives encoded envelopes for one topic until closed.
type Subscription struct {
	C <-chan []byte

	ch      chan []byte
	hub     *Hub
	topic   string
	dropped atomic.Int64
	once    sync.Once
}

// Dropped counts messages skipped because the subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Hub fans encoded messages out to in-process subscribers, per topic.
type Hub struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[*Subscription]struct{}
}

// NewHub builds a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{buffer: buffer, topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, topic: topic}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Subscribers returns how many subscribers topic currently has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Deliver hands data to every subscriber of topic without blocking. Slow
// subscribers miss the message.
func (h *Hub) Deliver(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- data:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[sub.topic]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}
