package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/smartdryer/core/logger"
)

// DefaultQueueSize bounds pending notifications when no size is configured.
const DefaultQueueSize = 256

// Async delivers notifications from a single background goroutine. Notify
// never blocks; when the queue is full the notification is dropped.
type Async struct {
	next    Notifier
	log     logger.Logger
	timeout time.Duration
	queue   chan Notification
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts the delivery goroutine. timeout bounds each delivery.
func NewAsync(next Notifier, size int, timeout time.Duration, log logger.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		log:     logger.OrNop(log),
		timeout: timeout,
		queue:   make(chan Notification, size),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.log.Warnf("notification %s for %s failed: %v", n.Kind, n.DeviceSerial, err)
		}
		cancel()
	}
}

// Notify enqueues n and never fails. Notifications arriving after Close or
// on a full queue are dropped.
func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
		a.log.Warnf("notification queue full, dropping %s for %s", n.Kind, n.DeviceSerial)
	}
	return nil
}

// Dropped returns the number of notifications discarded on a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting notifications and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
