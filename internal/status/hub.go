// Package status fans tunnel state changes out to any number of observers.
package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/webquiz/quiztunnel/internal/domain"
)

// Publisher is the broadcast primitive a tunnel session reports to.
type Publisher interface {
	Publish(domain.StatusEvent)
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(domain.StatusEvent)

func (f PublisherFunc) Publish(ev domain.StatusEvent) { f(ev) }

const (
	defaultSendTimeout = 250 * time.Millisecond
	defaultBufferSize  = 16
)

// Hub delivers every published event to all current subscribers in publish
// order. A subscriber that cannot take an event within the send timeout is
// evicted; the others are unaffected.
type Hub struct {
	log         *slog.Logger
	sendTimeout time.Duration
	bufferSize  int

	publishMu sync.Mutex // serializes fan-out so order holds per subscriber

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	last   *domain.StatusEvent
}

// Options tunes a Hub. Zero values select defaults.
type Options struct {
	SendTimeout time.Duration
	BufferSize  int
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, opts Options) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Hub{
		log:         logger,
		sendTimeout: opts.SendTimeout,
		bufferSize:  opts.BufferSize,
		subs:        make(map[uint64]*Subscription),
	}
}

// Subscription is one observer's event stream. C is closed when the
// subscription ends, either through Close or eviction.
type Subscription struct {
	C <-chan domain.StatusEvent

	id  uint64
	hub *Hub

	mu     sync.Mutex
	ch     chan domain.StatusEvent
	closed bool
}

// Subscribe registers a new observer. If anything was published before, the
// latest event is queued first so the observer starts from current state.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan domain.StatusEvent, h.bufferSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{C: ch, id: h.nextID, hub: h, ch: ch}
	if h.last != nil {
		ch <- *h.last
	}
	h.subs[sub.id] = sub
	return sub
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// send tries to queue ev, waiting at most timeout once the buffer is full.
func (s *Subscription) send(ev domain.StatusEvent, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Publish fans ev out to every registered subscriber.
func (h *Hub) Publish(ev domain.StatusEvent) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	last := ev
	h.last = &last
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.send(ev, h.sendTimeout) {
			continue
		}
		h.log.Warn("status subscriber too slow; dropping it", "subscriber", sub.id, "state", ev.State)
		h.remove(sub.id)
		sub.close()
	}
}

// Last returns the most recently published event, if any.
func (h *Hub) Last() (domain.StatusEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return domain.StatusEvent{}, false
	}
	return *h.last, true
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
