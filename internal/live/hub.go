package live

import (
	"sync"

	"guess-who/internal/domain"

	"github.com/rs/zerolog"
)

// Subscription receives full live states for one session. Each subscription has
// its own delivery goroutine and a one-slot mailbox: when the callback is slow,
// intermediate states are replaced by newer ones, never reordered.
type Subscription struct {
	id        uint64
	sessionID string
	fn        func(*domain.LiveState)

	mu          sync.Mutex
	pending     *domain.LiveState
	lastVersion int64
	closed      bool

	// held while fn runs, so Unsubscribe can wait out an in-flight callback
	cbMu sync.Mutex

	wake chan struct{}
	done chan struct{}
}

func (s *Subscription) offer(state *domain.LiveState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || state.Version <= s.lastVersion {
		return
	}
	s.lastVersion = state.Version
	s.pending = state
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		state := s.pending
		s.pending = nil
		s.mu.Unlock()
		if state == nil {
			continue
		}

		s.cbMu.Lock()
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.fn(state)
		}
		s.cbMu.Unlock()
	}
}

// close stops delivery and blocks until any running callback has returned.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
	s.mu.Unlock()

	s.cbMu.Lock()
	s.cbMu.Unlock()
}

// Hub fans live states out to subscribers, keyed by session id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers fn for sessionID. fn must not call Unsubscribe on its own subscription.
func (h *Hub) Subscribe(sessionID string, fn func(*domain.LiveState)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:        h.nextID,
		sessionID: sessionID,
		fn:        fn,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if h.closed {
		sub.closed = true
		close(sub.done)
		return sub
	}

	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[sessionID] = set
	}
	set[sub.id] = sub
	go sub.run()

	h.logger.Debug().Str("session_id", sessionID).Int("subscribers", len(set)).Msg("subscribed")
	return sub
}

// Unsubscribe removes sub. Once it returns, sub's callback will not be invoked again.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()

	sub.close()
	h.logger.Debug().Str("session_id", sub.sessionID).Msg("unsubscribed")
}

// Publish delivers a copy of state to every subscriber of its session that has
// not yet seen an equal or newer version.
func (h *Hub) Publish(state *domain.LiveState) {
	if state == nil {
		return
	}
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[state.SessionID]))
	for _, sub := range h.subs[state.SessionID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.offer(state.Clone())
	}
}

// Sessions lists the session ids that currently have subscribers.
func (h *Hub) Sessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for id := range h.subs {
		out = append(out, id)
	}
	return out
}

func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close unsubscribes everyone. Later subscriptions are inert.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
