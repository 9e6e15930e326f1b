// Package location supplies player positions to the server and polls them
// at a fixed interval without ever overlapping two polls.
package location

import (
	"context"
	"sync"

	"github.com/playperu/questhunt/internal/geo"
	"github.com/playperu/questhunt/internal/hunt"
)

// Source is where positions come from. Errors are hunt.ErrPermissionDenied
// when the player refused location access and hunt.ErrLocationTimeout when
// no position arrived in time.
type Source interface {
	CurrentPosition(ctx context.Context) (hunt.LatLng, error)
	// Watch calls fn for every new position until the returned cancel runs.
	Watch(fn func(hunt.LatLng)) (cancel func())
}

// Feed is a Source driven by positions pushed from a client connection.
type Feed struct {
	mu       sync.Mutex
	last     *hunt.LatLng
	denied   bool
	changed  chan struct{}
	nextID   int
	watchers map[int]func(hunt.LatLng)
}

func NewFeed() *Feed {
	return &Feed{
		changed:  make(chan struct{}),
		watchers: make(map[int]func(hunt.LatLng)),
	}
}

// Push records a new position from the client.
func (f *Feed) Push(pos hunt.LatLng) error {
	if _, err := geo.Distance(pos, pos); err != nil {
		return err
	}
	f.mu.Lock()
	f.last = &pos
	f.denied = false
	close(f.changed)
	f.changed = make(chan struct{})
	watchers := make([]func(hunt.LatLng), 0, len(f.watchers))
	for _, fn := range f.watchers {
		watchers = append(watchers, fn)
	}
	f.mu.Unlock()

	for _, fn := range watchers {
		fn(pos)
	}
	return nil
}

// Deny records that the client refused location access.
func (f *Feed) Deny() {
	f.mu.Lock()
	f.denied = true
	f.last = nil
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// CurrentPosition returns the latest position, waiting for the first one
// until ctx is done.
func (f *Feed) CurrentPosition(ctx context.Context) (hunt.LatLng, error) {
	for {
		f.mu.Lock()
		denied, last, changed := f.denied, f.last, f.changed
		f.mu.Unlock()

		switch {
		case denied:
			return hunt.LatLng{}, hunt.ErrPermissionDenied
		case last != nil:
			return *last, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return hunt.LatLng{}, hunt.Wrap(hunt.CodeLocationTimeout, "waiting for position", ctx.Err())
		}
	}
}

func (f *Feed) Watch(fn func(hunt.LatLng)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}
