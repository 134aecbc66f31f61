// Package live fans record snapshots out to long-lived subscribers.
//
// Each subscriber owns a Subscription with a one-slot channel. Publishing
// never blocks: when the slot is full the stale snapshot is replaced by the
// new one, so a slow consumer always sees the latest state.
package live

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Topics published by the service.
const (
	TopicVehicles    = "vehicles"
	TopicActive      = "active"
	TopicActiveCount = "active_count"
	TopicBrands      = "brands"
	TopicModelsPfx   = "models:"
)

// ModelsTopic returns the topic for one brand's models.
func ModelsTopic(brandID string) string {
	return TopicModelsPfx + brandID
}

// Snapshot is one published state of a topic.
type Snapshot struct {
	Topic   string `json:"topic"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

// Hub tracks subscriptions per topic.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	closed bool
	seq    atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber on topic. The caller must Close the
// returned handle when done.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		hub:   h,
		topic: topic,
		ch:    make(chan Snapshot, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}

	slog.Debug("live: subscribed", "topic", topic, "subscribers", len(h.topics[topic]))
	return sub
}

// Publish delivers payload to every subscriber of topic.
func (h *Hub) Publish(topic string, payload any) {
	snap := Snapshot{Topic: topic, Seq: h.seq.Add(1), Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.topics[topic] {
		sub.offer(snap)
	}
}

// Subscribed reports whether topic has at least one subscriber, letting
// producers skip building snapshots nobody reads.
func (h *Hub) Subscribed(topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic]) > 0
}

// SubscriberCount returns the total number of open subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

// Close ends every subscription. Later Subscribe calls return closed handles.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.done = true
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.done {
		return
	}
	sub.done = true
	if subs := h.topics[sub.topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	close(sub.ch)
}

// Subscription is a registration on one topic. Receive from C until it is
// closed; call Close to unregister.
type Subscription struct {
	hub   *Hub
	topic string
	ch    chan Snapshot
	done  bool // guarded by hub.mu
}

// C returns the delivery channel. It is closed by Close or Hub.Close.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// offer replaces any undelivered snapshot with snap. Called with hub.mu held.
func (s *Subscription) offer(snap Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
