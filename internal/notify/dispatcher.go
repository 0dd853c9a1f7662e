package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher fans events out to sinks from a bounded queue. Publish never
// blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher starts workers draining a queue of queueSize events.
func NewDispatcher(sinks []Sink, queueSize, workers int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish enqueues ev for delivery.
func (d *Dispatcher) Publish(_ context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		zap.L().Warn("notify: dispatcher closed, dropping event",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
		)
		return
	}

	select {
	case d.queue <- ev:
	default:
		zap.L().Warn("notify: queue full, dropping event",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("commitment_id", ev.CommitmentID),
		)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Deliver(ctx, ev)
		cancel()
		if err != nil {
			zap.L().Error("notify: delivery failed",
				zap.String("sink", s.Name()),
				zap.String("event_id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}
