package link

import (
	"sync"
	"sync/atomic"

	"ShapeBot/internal/model"
)

// Listener receives inbound events. It is called on the worker's goroutine and
// must not block.
type Listener interface {
	OnInbound(ev model.InboundEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev model.InboundEvent)

// OnInbound implements Listener.
func (f ListenerFunc) OnInbound(ev model.InboundEvent) { f(ev) }

// registry holds listeners keyed by subscription id so removal is explicit.
type registry struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func (r *registry) add(l Listener) func() {
	r.mu.Lock()
	if r.listeners == nil {
		r.listeners = make(map[int]Listener)
	}
	id := r.next
	r.next++
	r.listeners[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

func (r *registry) emit(ev model.InboundEvent) {
	r.mu.RLock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.mu.RUnlock()
	for _, l := range ls {
		l.OnInbound(ev)
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// channelListener forwards into a bounded channel, dropping when full.
type channelListener struct {
	ch      chan model.InboundEvent
	dropped *atomic.Uint64
}

func (c channelListener) OnInbound(ev model.InboundEvent) {
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}
