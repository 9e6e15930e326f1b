// Package pubsub fans out document change notifications to subscribers.
package pubsub

import "sync"

// Change names a document that was written.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Publisher receives change notifications from the document store.
type Publisher interface {
	Publish(c Change)
}

// Feed is an in-process pub/sub for changes, keyed by collection.
// Subscriber channels hold one pending notification; further changes
// coalesce into it until the subscriber drains the channel.
type Feed struct {
	mu   sync.RWMutex
	subs map[string]map[chan Change]struct{}
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[string]map[chan Change]struct{}),
	}
}

func (f *Feed) Subscribe(collection string) chan Change {
	ch := make(chan Change, 1)
	f.mu.Lock()
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[chan Change]struct{})
	}
	f.subs[collection][ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) Unsubscribe(collection string, ch chan Change) {
	f.mu.Lock()
	delete(f.subs[collection], ch)
	if len(f.subs[collection]) == 0 {
		delete(f.subs, collection)
	}
	f.mu.Unlock()
}

func (f *Feed) Publish(c Change) {
	f.mu.RLock()
	for ch := range f.subs[c.Collection] {
		select {
		case ch <- c:
		default:
			// A notification is already pending.
		}
	}
	f.mu.RUnlock()
}

// Subscribers returns the number of live subscriptions on collection.
func (f *Feed) Subscribers(collection string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[collection])
}
