package streaming

import (
	"sync"

	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"
)

// subscriberBuffer is the per-subscriber channel capacity
const subscriberBuffer = 64

// Subscription receives the live chunks of one assistant message.
// C closes when the attempt ends, when the subscriber unsubscribes or
// when it fell behind; Lagged tells the last case apart.
type Subscription struct {
	C <-chan chatModels.Chunk

	ch     chan chatModels.Chunk
	mu     sync.Mutex
	closed bool
	lagged bool
}

// Lagged reports whether chunks were dropped because the subscriber fell behind.
// The subscriber can continue from the resumable stream store.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

func (s *Subscription) close(lagged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.lagged = lagged
	close(s.ch)
}

// Hub fans out chunks of live attempts to attached HTTP connections.
// Publish never blocks: a subscriber whose buffer is full is dropped.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

var _ chatService.Relay = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: subscriberBuffer,
	}
}

// Subscribe attaches to a message's chunks. Call the returned func to detach.
func (h *Hub) Subscribe(messageID string) (*Subscription, func()) {
	ch := make(chan chatModels.Chunk, h.buffer)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	subs, ok := h.topics[messageID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[messageID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub, func() {
		h.remove(messageID, sub)
		sub.close(false)
	}
}

func (h *Hub) remove(messageID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[messageID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, messageID)
	}
}

// Publish delivers chunk to every subscriber of messageID without blocking.
func (h *Hub) Publish(messageID string, chunk chatModels.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[messageID]
	for sub := range subs {
		select {
		case sub.ch <- chunk:
		default:
			// Slow consumer; it resumes from the stream store
			delete(subs, sub)
			sub.close(true)
		}
	}
	if subs != nil && len(subs) == 0 {
		delete(h.topics, messageID)
	}
}

// Close ends the topic. Subscribers drain buffered chunks, then see C closed.
func (h *Hub) Close(messageID string) {
	h.mu.Lock()
	subs := h.topics[messageID]
	delete(h.topics, messageID)
	h.mu.Unlock()

	for sub := range subs {
		sub.close(false)
	}
}

// Connections returns the number of attached subscribers across all messages.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}
