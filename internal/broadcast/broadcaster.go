// Package broadcast implements the WebSocket subscriber plugin: clients
// connect, are auto-subscribed to the document URL they connected through,
// and receive a StreamItem frame whenever a mutating request applies a
// selector to that document.
package broadcast

import (
	"sync"

	"github.com/goatkit/beamhost/internal/leaf"
	"github.com/goatkit/beamhost/internal/store"
)

// subscriber is one live WebSocket connection, subscribed to exactly one
// normalized document URL.
type subscriber struct {
	id   string
	url  string
	send chan []byte
}

// Broadcaster owns the set of live subscribers and fans broadcast events
// out to every subscriber on a matching document URL.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*subscriber)}
}

func (b *Broadcaster) register(id, url string) *subscriber {
	s := &subscriber{id: id, url: normalizeURL(url), send: make(chan []byte, 256)}
	b.mu.Lock()
	b.subs[id] = s
	count := len(b.subs)
	b.mu.Unlock()
	leaf.SetWebSocketSubscribers(count)
	return s
}

func (b *Broadcaster) unregister(id string) {
	b.mu.Lock()
	if s, ok := b.subs[id]; ok {
		close(s.send)
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()
	leaf.SetWebSocketSubscribers(count)
}

// Broadcast sends a StreamItem frame to every subscriber whose subscribed
// URL normalizes to the same document as url.
func (b *Broadcaster) Broadcast(method, url, selector, content string) {
	target := normalizeURL(url)
	payload := []byte(renderStreamItem(method, url, selector, content))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.url != target {
			continue
		}
		select {
		case s.send <- payload:
		default:
			// Slow consumer: drop rather than block the broadcaster.
		}
	}
}

// Count reports the number of live subscribers, used by tests.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func normalizeURL(url string) string {
	return store.ResolveDocumentPath(url)
}
