// Package workerpool delivers engine status reports off the engine's
// callback path. Submit never blocks: when the queue is full the report is
// dropped and counted.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
)

var log = logging.L("workerpool")

// Event is one status report from an installer engine.
type Event struct {
	SessionID string
	Code      int
	Message   string
	At        time.Time
}

// Handler consumes events. With more than one worker, handlers run
// concurrently and events may be delivered out of order.
type Handler func(Event)

// Pool is a bounded set of workers draining a fixed-size event queue.
type Pool struct {
	handler   Handler
	queue     chan Event
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	mu      sync.RWMutex
	stopped bool
}

// New starts a pool of workers goroutines with a queue of queueSize events.
func New(workers, queueSize int, h Handler) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		handler: h,
		queue:   make(chan Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("status pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues ev and reports whether it was accepted. It returns false
// once the pool is shutting down or when the queue is full.
func (p *Pool) Submit(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	// wg.Add before enqueue so Shutdown cannot miss the event.
	p.wg.Add(1)
	select {
	case p.queue <- ev:
		return true
	default:
		p.wg.Done()
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn("status queue full, dropping reports", "dropped", n)
		}
		return false
	}
}

// Dropped returns how many events were rejected because the queue was full.
func (p *Pool) Dropped() uint64 {
	return p.dropped.Load()
}

// Shutdown stops accepting events and waits for queued events to be
// handled, up to the context deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("status pool shutdown timed out", "error", ctx.Err())
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for ev := range p.queue {
		p.handle(ev)
	}
}

// handle runs the handler with panic recovery so a faulty handler cannot
// take down the install.
func (p *Pool) handle(ev Event) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("status handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if p.handler != nil {
		p.handler(ev)
	}
}
