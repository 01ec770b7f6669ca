package stream

import (
	"sync"
)

// Hub fans published values out to any number of subscribers. Each
// subscriber has its own unbounded queue, so Publish never blocks on a slow
// reader and a reader never observes values out of publish order.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

type subscriber[T any] struct {
	mu     sync.Mutex
	queue  []T
	signal chan struct{}
	done   chan struct{}
	out    chan T
	once   sync.Once

	// draining ends the subscriber once its queue is empty
	draining bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Subscribe returns a channel of published values and a cancel func. The
// channel is closed after cancel or Close.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	return h.subscribe(nil)
}

// SubscribeFrom is Subscribe with initial queued ahead of any later value.
func (h *Hub[T]) SubscribeFrom(initial T) (<-chan T, func()) {
	return h.subscribe(&initial)
}

func (h *Hub[T]) subscribe(initial *T) (<-chan T, func()) {
	s := &subscriber[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}
	if initial != nil {
		s.push(*initial)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(v)
	}
}

func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber[T]]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

// Finish closes the hub once each subscriber has received everything
// already published. A subscriber's cancel still ends its stream at once.
func (h *Hub[T]) Finish() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber[T]]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.finish()
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
