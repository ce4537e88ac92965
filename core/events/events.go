// Package events implements a publisher/subscriber registry in which a
// long-lived publisher can notify short-lived subscribers without
// extending their lifetimes.
//
// Two mechanisms are offered, and both are deterministic from the
// publisher's side. A strong subscription stays registered until the
// subscriber calls Unsubscribe on its own teardown. A weak subscription
// holds a non-owning handle to the subscriber that is validated before
// each notification; once the subscriber becomes unreachable the handle
// goes dead and the registration is pruned during the next Publish.
package events

import (
	"sync"
	"weak"
)

// Handler receives published events.
type Handler[T any] interface {
	Handle(event T)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[T any] func(event T)

// Handle calls f(event).
func (f HandlerFunc[T]) Handle(event T) { f(event) }

// subscription is one registry entry. resolve reports the handler and
// whether it is still alive; for strong entries it always succeeds.
type subscription[T any] struct {
	id      int
	resolve func() (Handler[T], bool)
}

// Publisher delivers events to registered subscribers. The zero value
// is ready to use. Registration and delivery are safe for concurrent
// use; delivery itself is synchronous and in subscription order.
type Publisher[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
}

// Subscribe registers h until Unsubscribe is called with the returned
// ID. The publisher keeps h reachable.
func (p *Publisher[T]) Subscribe(h Handler[T]) int {
	return p.add(func() (Handler[T], bool) { return h, true })
}

// Unsubscribe removes the subscription with the given ID. It reports
// whether the ID was registered.
func (p *Publisher[T]) Unsubscribe(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers event to every live subscriber in subscription
// order and returns the number of deliveries. Dead weak subscriptions
// found along the way are pruned. Handlers run on the calling
// goroutine, outside the registry lock.
func (p *Publisher[T]) Publish(event T) int {
	p.mu.Lock()
	handlers := make([]Handler[T], 0, len(p.subs))
	kept := p.subs[:0]
	for _, s := range p.subs {
		h, ok := s.resolve()
		if !ok {
			continue
		}
		handlers = append(handlers, h)
		kept = append(kept, s)
	}
	p.subs = kept
	p.mu.Unlock()

	for _, h := range handlers {
		h.Handle(event)
	}
	return len(handlers)
}

// Len returns the number of registered subscriptions. Weak entries
// whose subscribers are gone still count until the next Publish prunes
// them.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher[T]) add(resolve func() (Handler[T], bool)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.subs = append(p.subs, subscription[T]{id: p.nextID, resolve: resolve})
	return p.nextID
}

// SubscribeWeak registers sub without keeping it reachable: the
// publisher holds only a weak handle, validated before each
// notification. The subscriber may still call Unsubscribe for
// deterministic teardown; otherwise the registration disappears after
// the subscriber is reclaimed.
//
// This is a free function because the weak handle needs the
// subscriber's concrete type, which a method could not name.
func SubscribeWeak[T any, S any, PS interface {
	*S
	Handler[T]
}](p *Publisher[T], sub PS) int {
	handle := weak.Make((*S)(sub))
	return p.add(func() (Handler[T], bool) {
		v := handle.Value()
		if v == nil {
			return nil, false
		}
		return PS(v), true
	})
}
