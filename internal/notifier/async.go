package notifier

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/types"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

const (
	DefaultQueueSize = 32
	DefaultTimeout   = 15 * time.Second
)

// Async delivers events to an inner notifier from its own goroutine so that a
// stalled transport never blocks the caller. When the queue is full new events
// are dropped.
type Async struct {
	inner   Notifier
	timeout time.Duration
	queue   chan types.Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

func NewAsync(inner Notifier, queueSize int, timeout time.Duration) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	a := &Async{
		inner:   inner,
		timeout: timeout,
		queue:   make(chan types.Event, queueSize),
		done:    make(chan struct{}),
	}
	go a.worker()
	return a
}

// Notify enqueues the event without waiting for delivery
func (a *Async) Notify(_ context.Context, event types.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		a.dropped.Add(1)
		log.WithField("event_id", event.ID).Warnf("Notification queue full, dropping %s", event.Decision)
		return ErrQueueFull
	}
}

// Dropped returns the number of events discarded because the queue was full
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) worker() {
	defer close(a.done)

	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.inner.Notify(ctx, event); err != nil {
			log.WithField("event_id", event.ID).Errorf("Notification delivery failed: %v", err)
		}
		cancel()
	}
}

// Close stops accepting events, waits for queued ones to be delivered and
// closes the inner notifier if it holds resources
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.done

	if c, ok := a.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
