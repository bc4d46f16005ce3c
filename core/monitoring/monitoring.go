// Package monitoring forwards errors and panics to the configured error
// tracker. The default monitor discards everything.
package monitoring

import (
	"sync"
	"time"
)

// Monitor reports errors to an external tracker.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(p any, tags map[string]string)
	Flush(timeout time.Duration)
}

// NopMonitor discards reports.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the process-wide monitor. A nil monitor is ignored.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records err with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CapturePanic records a value obtained from recover.
func CapturePanic(p any, tags map[string]string) {
	if p == nil {
		return
	}
	get().CapturePanic(p, tags)
}

// Recover reports a panic in the calling goroutine, flushes and re-raises
// it. It only works when deferred directly:
//
//	defer monitoring.Recover(map[string]string{"component": "sweeper"})
func Recover(tags map[string]string) {
	if p := recover(); p != nil {
		m := get()
		m.CapturePanic(p, tags)
		m.Flush(2 * time.Second)
		panic(p)
	}
}

// Flush waits up to d for buffered reports to be sent.
func Flush(d time.Duration) { get().Flush(d) }
