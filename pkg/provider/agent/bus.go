package agent

import "sync"

// Bus is a typed event bus. Transports publish from a single goroutine, so
// events reach handlers in arrival order; handlers for one kind run in
// registration order. One-shot handlers are removed before they are invoked.
//
// Registration is safe for concurrent use and may happen from inside a
// handler. The handler set is captured when an event is published: changes
// made while an event is being delivered take effect from the next event.
//
// The zero value is ready to use.
type Bus struct {
	mu   sync.Mutex
	next SubscriptionID
	subs map[EventKind][]subscription
}

type subscription struct {
	id   SubscriptionID
	h    Handler
	once bool
}

// On registers a durable handler for kind.
func (b *Bus) On(kind EventKind, h Handler) SubscriptionID {
	return b.add(kind, h, false)
}

// Once registers a handler that receives at most one event.
func (b *Bus) Once(kind EventKind, h Handler) SubscriptionID {
	return b.add(kind, h, true)
}

func (b *Bus) add(kind EventKind, h Handler, once bool) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[EventKind][]subscription)
	}
	b.next++
	b.subs[kind] = append(b.subs[kind], subscription{id: b.next, h: h, once: once})
	return b.next
}

// Off removes the handler registered under id. Unknown IDs are ignored.
func (b *Bus) Off(kind EventKind, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// OffAll removes every handler registered for kind.
func (b *Bus) OffAll(kind EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, kind)
}

// Len returns the number of handlers registered for kind.
func (b *Bus) Len(kind EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// Publish delivers ev to every handler registered for ev.Kind. It returns
// after the last handler has returned.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := b.subs[ev.Kind]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	kept := subs[:0:0]
	for _, s := range subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) != len(subs) {
		b.subs[ev.Kind] = kept
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		s.h(ev)
	}
}
