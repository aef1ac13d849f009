package media

import "sync"

const eventBufferSize = 16

// StateChange is published whenever a controller's state changes.
type StateChange struct {
	Previous State
	Current  State
}

// Subscription delivers a controller's reconciled events to one client.
// Sends never block; events are dropped when a buffer is full.
type Subscription struct {
	Events       <-chan Event
	StateChanged <-chan StateChange
	Done         <-chan struct{}

	eventCh chan Event
	stateCh chan StateChange
	doneCh  chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		eventCh: make(chan Event, eventBufferSize),
		stateCh: make(chan StateChange, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.Events = s.eventCh
	s.StateChanged = s.stateCh
	s.Done = s.doneCh
	return s
}

func (s *Subscription) sendEvent(e Event) {
	select {
	case s.eventCh <- e:
	default:
	}
}

func (s *Subscription) sendState(e StateChange) {
	select {
	case s.stateCh <- e:
	default:
	}
}

// Hub fans events out to subscriptions. The zero value is ready to use.
type Hub struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Subscribe registers a new subscription. On a closed hub the returned
// subscription is already done.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := newSubscription()
	if h.closed {
		close(s.doneCh)
		return s
	}
	h.subs = append(h.subs, s)
	return s
}

// Unsubscribe removes s and closes its Done channel.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subs {
		if sub == s {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(s.doneCh)
			return
		}
	}
}

// PublishEvent sends e to every subscriber.
func (h *Hub) PublishEvent(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.sendEvent(e)
	}
}

// PublishState sends a state change to every subscriber when prev != cur.
func (h *Hub) PublishState(prev, cur State) {
	if prev == cur {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.sendState(StateChange{Previous: prev, Current: cur})
	}
}

// Close ends all subscriptions. It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, s := range h.subs {
		close(s.doneCh)
	}
	h.subs = nil
}
