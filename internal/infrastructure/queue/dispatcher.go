// Package queue moves auth bus events off the request path.
package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/ports"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
	publishTimeout = 3 * time.Second
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("dispatcher closed")

// Dispatcher implements ports.EventBus by handing events to a fixed set of
// workers that publish them on the underlying bus. Events are sharded on the
// user id, so one user's transitions are published in the order they were
// accepted.
type Dispatcher struct {
	bus     ports.EventBus
	workers []chan ports.BusEvent
	log     zerolog.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, bus ports.EventBus, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		bus:     bus,
		workers: make([]chan ports.BusEvent, numWorkers),
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.BusEvent, channelBuffer)
	}
	return d
}

// Start launches the workers. They keep draining after ctx is cancelled and
// stop once Close has been called and their queue is empty.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(base, i, ch)
	}
}

// Publish queues ev for its user's worker. It blocks while that queue is
// full, until ctx is done.
func (d *Dispatcher) Publish(ctx context.Context, ev ports.BusEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.workers[d.shardIndex(ev.UserID)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe reads straight from the underlying bus.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan ports.BusEvent, func() error, error) {
	return d.bus.Subscribe(ctx)
}

// Close stops accepting events and waits until the queued ones are published.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// shardIndex maps a user id deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.BusEvent) {
	defer d.wg.Done()
	for ev := range ch {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := d.bus.Publish(pubCtx, ev); err != nil {
			d.log.Error().Err(err).
				Str("kind", string(ev.Kind)).
				Str("user_id", ev.UserID).
				Int("worker_id", id).
				Msg("event publish failed")
		}
		cancel()
	}
}
