package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

// ErrDispatcherClosed is returned by Notify after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// EventHandler consumes one appended event.
type EventHandler interface {
	Handle(ctx context.Context, e domain.Event) error
}

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	Workers   int
	QueueSize int

	// DrainTimeout bounds how long Run waits for Close after ctx is
	// cancelled. Events still queued at that point stay unprocessed in the
	// log.
	DrainTimeout time.Duration
}

// Dispatcher is the in-process event notifier: a bounded channel drained by
// a fixed pool of goroutines. Notify blocks while the channel is full.
type Dispatcher struct {
	handler      EventHandler
	events       chan domain.Event
	workers      int
	retry        retry.Config
	drainTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher feeding handler.
func NewDispatcher(handler EventHandler, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Dispatcher{
		handler:      handler,
		events:       make(chan domain.Event, cfg.QueueSize),
		workers:      cfg.Workers,
		retry:        retry.DefaultConfig,
		drainTimeout: cfg.DrainTimeout,
		done:         make(chan struct{}),
	}
}

// Notify implements eventlog.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, e domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Run drains what is queued and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
		close(d.done)
	}
}

// Run processes events until Close is called and the channel is drained.
// Cancelling ctx does not drop queued events: the owner is expected to stop
// producers and then Close. If that does not happen within the drain
// timeout, Run closes the dispatcher itself.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Info("dispatcher: starting", "workers", d.workers, "queue_size", cap(d.events))

	go func() {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
		}
		select {
		case <-d.done:
		case <-time.After(d.drainTimeout):
			logger.Warn("dispatcher: not closed after shutdown, closing", "queued", len(d.events))
			d.Close()
		}
	}()

	// Handlers run detached from ctx so an event taken off the channel is
	// finished rather than abandoned mid-pipeline.
	hctx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range d.events {
				d.handle(hctx, e)
			}
		}()
	}
	wg.Wait()
	logger.Info("dispatcher: stopped")
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, e domain.Event) {
	metrics.WorkerStarted("events")
	defer metrics.WorkerFinished("events")

	// Every pipeline step is idempotent, so the whole event is retried.
	err := retry.Store(ctx, d.retry, func() error { return d.handler.Handle(ctx, e) })
	if err != nil {
		logger.Error("dispatcher: event handling failed, left for recovery",
			"event_id", e.ID, "type", string(e.Type), "error", err.Error())
	}
}
