// Package bus provides the invalidation service used to notify application
// views when collaboration state changes. It replaces implicit module-level
// listener sets with an explicit dependency owned by the composition root:
// subscribers register against a key (or every key) and publishers invalidate
// by key or wholesale.
package bus

import "sync"

// Handler receives the key that was invalidated.
type Handler func(key string)

// WildcardKey subscribes a handler to every published key.
const WildcardKey = "*"

type subscription struct {
	key string
	fn  Handler
}

// Bus is a keyed publish/subscribe service. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a handler for the given key and returns a function that
// unregisters it. Subscribing with WildcardKey delivers every publication.
func (b *Bus) Subscribe(key string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{key: key, fn: fn}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish invalidates one key, invoking its subscribers and any wildcard
// subscribers. Handlers run synchronously on the caller's goroutine.
func (b *Bus) Publish(key string) {
	for _, fn := range b.matching(key) {
		fn(key)
	}
}

// PublishAll invalidates every distinct subscribed key.
func (b *Bus) PublishAll() {
	b.mu.RLock()
	keys := make(map[string]struct{})
	for _, sub := range b.subs {
		if sub.key != WildcardKey {
			keys[sub.key] = struct{}{}
		}
	}
	b.mu.RUnlock()

	for key := range keys {
		b.Publish(key)
	}
}

func (b *Bus) matching(key string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.key == key || sub.key == WildcardKey {
			out = append(out, sub.fn)
		}
	}
	return out
}
