package location

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/playperu/questhunt/internal/hunt"
)

// Handler consumes one polled position.
type Handler func(ctx context.Context, pos hunt.LatLng) error

// Poller reads a Source every interval and hands the position to a Handler.
// At most one poll is in flight; a tick that fires while the previous poll
// is still running is skipped.
type Poller struct {
	source   Source
	interval time.Duration
	handle   Handler
	logger   *slog.Logger
	inflight *semaphore.Weighted
}

func NewPoller(source Source, interval time.Duration, handle Handler, logger *slog.Logger) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		handle:   handle,
		logger:   logger,
		inflight: semaphore.NewWeighted(1),
	}
}

// Run polls until ctx is cancelled or the source reports that permission
// was denied. It waits for the in-flight poll before returning.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	denied := make(chan struct{}, 1)
	defer func() {
		p.inflight.Acquire(context.Background(), 1)
		p.inflight.Release(1)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-denied:
			return hunt.ErrPermissionDenied
		case <-ticker.C:
			if !p.inflight.TryAcquire(1) {
				p.logger.Debug("location poll skipped, previous still running")
				continue
			}
			go func() {
				defer p.inflight.Release(1)
				if err := p.poll(ctx); errors.Is(err, hunt.ErrPermissionDenied) {
					select {
					case denied <- struct{}{}:
					default:
					}
				}
			}()
		}
	}
}

// Poll runs a single poll in the caller's goroutine. It returns false
// without polling when another poll is in flight.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	if !p.inflight.TryAcquire(1) {
		return false, nil
	}
	defer p.inflight.Release(1)
	return true, p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	pos, err := p.source.CurrentPosition(pollCtx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("location unavailable", "error", err)
		}
		return err
	}
	if err := p.handle(ctx, pos); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("handling location failed", "error", err)
		}
		return err
	}
	return nil
}
