package location

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playperu/questhunt/internal/hunt"
)

var lima = hunt.LatLng{Lat: -12.0464, Lng: -77.0428}

func TestFeedCurrentPosition(t *testing.T) {
	f := NewFeed()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.CurrentPosition(ctx); !errors.Is(err, hunt.ErrLocationTimeout) {
		t.Fatalf("expected LocationTimeout with no fix, got %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Push(lima)
	}()
	pos, err := f.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("current position: %v", err)
	}
	if pos != lima {
		t.Fatalf("expected %v, got %v", lima, pos)
	}

	f.Deny()
	if _, err := f.CurrentPosition(context.Background()); !errors.Is(err, hunt.ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestFeedRejectsInvalid(t *testing.T) {
	f := NewFeed()
	if err := f.Push(hunt.LatLng{Lat: 100}); !errors.Is(err, hunt.ErrInvalidCoordinates) {
		t.Fatalf("expected InvalidCoordinates, got %v", err)
	}
}

func TestFeedWatch(t *testing.T) {
	f := NewFeed()
	var got []hunt.LatLng
	cancel := f.Watch(func(p hunt.LatLng) { got = append(got, p) })

	f.Push(lima)
	cancel()
	f.Push(hunt.LatLng{Lat: 1, Lng: 1})

	if len(got) != 1 || got[0] != lima {
		t.Fatalf("expected only the fix before cancel, got %v", got)
	}
}

// blockingSource holds every CurrentPosition call until release is closed.
type blockingSource struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *blockingSource) CurrentPosition(ctx context.Context) (hunt.LatLng, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
		return lima, nil
	case <-ctx.Done():
		return hunt.LatLng{}, hunt.ErrLocationTimeout
	}
}

func (s *blockingSource) Watch(func(hunt.LatLng)) func() { return func() {} }

func TestPollerNeverOverlaps(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	var handled atomic.Int32
	p := NewPoller(src, time.Hour, func(context.Context, hunt.LatLng) error {
		handled.Add(1)
		return nil
	}, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if ok, err := p.Poll(context.Background()); !ok || err != nil {
			t.Errorf("expected first poll to run, got ok=%v err=%v", ok, err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if ok, _ := p.Poll(context.Background()); ok {
		t.Fatal("expected second poll skipped while first is in flight")
	}

	close(src.release)
	<-done

	if n := handled.Load(); n != 1 {
		t.Fatalf("expected exactly one handled position, got %d", n)
	}
	if ok, err := p.Poll(context.Background()); !ok || err != nil {
		t.Fatalf("expected poll to run again after release, got ok=%v err=%v", ok, err)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	f := NewFeed()
	f.Push(lima)

	seen := make(chan hunt.LatLng, 8)
	p := NewPoller(f, 5*time.Millisecond, func(_ context.Context, pos hunt.LatLng) error {
		select {
		case seen <- pos:
		default:
		}
		return nil
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never delivered a position")
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

func TestPollerRunStopsOnPermissionDenied(t *testing.T) {
	f := NewFeed()
	f.Deny()

	p := NewPoller(f, 5*time.Millisecond, func(context.Context, hunt.LatLng) error { return nil },
		slog.New(slog.DiscardHandler))

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, hunt.ErrPermissionDenied) {
			t.Fatalf("expected PermissionDenied, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on denied permission")
	}
}
