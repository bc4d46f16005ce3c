package notify

import (
	"context"
	"sync"
)

// Recorder keeps every notification in memory. It is used by tests and the
// CLI dry-run paths.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
	return nil
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// OfKind filters the recorded notifications.
func (r *Recorder) OfKind(k Kind) []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}
