package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HubConfig sizes the in-memory fan-out.
type HubConfig struct {
	// SubscriberBuffer is the channel capacity given to each subscriber on top
	// of the replayed backlog.
	SubscriberBuffer int
	// Backlog is how many recent events per session are kept for late
	// subscribers.
	Backlog int
	// PublishTimeout bounds how long delivery waits on a full subscriber
	// before dropping the event for that subscriber.
	PublishTimeout time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.Backlog <= 0 {
		c.Backlog = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 100 * time.Millisecond
	}
	return c
}

// Hub is an in-process Sink that fans session events out to subscribers.
// Each session is its own topic; a topic is finished by its Completed event,
// after which subscribers' channels are closed.
type Hub struct {
	cfg HubConfig

	mu     sync.Mutex
	topics map[uuid.UUID]*topic
	closed bool

	dropped atomic.Uint64
}

type topic struct {
	mu      sync.Mutex
	backlog []Event
	subs    map[chan Event]struct{}
	done    bool
}

// NewHub constructs a Hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:    cfg.withDefaults(),
		topics: make(map[uuid.UUID]*topic),
	}
}

func (h *Hub) topic(sessionID uuid.UUID) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	t, ok := h.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[sessionID] = t
	}
	return t
}

// Subscribe returns a channel receiving the session's events, starting with
// the retained backlog, and a func that unsubscribes. The channel is closed
// after the Completed event, on unsubscribe, or when the hub closes.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan Event, func()) {
	t := h.topic(sessionID)
	if t == nil {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, h.cfg.SubscriberBuffer+len(t.backlog))
	for _, ev := range t.backlog {
		ch <- ev
	}
	if t.done {
		close(ch)
		return ch, func() {}
	}
	t.subs[ch] = struct{}{}

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (h *Hub) publish(ev Event) {
	t := h.topic(ev.SessionID)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}

	t.backlog = append(t.backlog, ev)
	if over := len(t.backlog) - h.cfg.Backlog; over > 0 {
		t.backlog = append(t.backlog[:0:0], t.backlog[over:]...)
	}

	for ch := range t.subs {
		h.deliver(ch, ev)
	}

	if ev.Kind == KindCompleted {
		t.done = true
		for ch := range t.subs {
			close(ch)
			delete(t.subs, ch)
		}
	}
}

func (h *Hub) deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	timer := time.NewTimer(h.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case ch <- ev:
	case <-timer.C:
		h.dropped.Add(1)
	}
}

// Dropped is the number of deliveries abandoned because a subscriber was
// too slow.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Forget discards a session's topic, closing any remaining subscribers.
func (h *Hub) Forget(sessionID uuid.UUID) {
	h.mu.Lock()
	t, ok := h.topics[sessionID]
	delete(h.topics, sessionID)
	h.mu.Unlock()
	if ok {
		t.close()
	}
}

// Close closes every subscriber and stops further publication.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	topics := h.topics
	h.topics = make(map[uuid.UUID]*topic)
	h.mu.Unlock()

	for _, t := range topics {
		t.close()
	}
}

func (t *topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.backlog = nil
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
}

func (h *Hub) BroadcastState(_ context.Context, sessionID uuid.UUID, update StateUpdate) error {
	h.publish(stateEvent(sessionID, update))
	return nil
}

func (h *Hub) BroadcastLog(_ context.Context, sessionID uuid.UUID, entry LogEntry) error {
	h.publish(logEvent(sessionID, entry))
	return nil
}

func (h *Hub) BroadcastError(_ context.Context, sessionID uuid.UUID, event ErrorEvent) error {
	h.publish(errorEvent(sessionID, event))
	return nil
}

func (h *Hub) BroadcastCompleted(_ context.Context, sessionID uuid.UUID, completed Completed) error {
	h.publish(completedEvent(sessionID, completed))
	return nil
}
