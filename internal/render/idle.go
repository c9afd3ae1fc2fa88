package render

import (
	"context"
	"sync"
	"time"
)

// idleTracker counts in-flight network requests and reports quiescence:
// at most maxInflight requests outstanding for an uninterrupted window.
type idleTracker struct {
	maxInflight int
	window      time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	changed  chan struct{}
}

func newIdleTracker(maxInflight int, window time.Duration) *idleTracker {
	if maxInflight < 0 {
		maxInflight = 0
	}
	return &idleTracker{
		maxInflight: maxInflight,
		window:      window,
		inflight:    make(map[string]struct{}),
		changed:     make(chan struct{}, 1),
	}
}

// started records a request. Redirect hops reuse their request id and are
// counted once.
func (t *idleTracker) started(id string) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.mu.Unlock()
	t.notify()
}

// finished records a completed or failed request.
func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	_, ok := t.inflight[id]
	delete(t.inflight, id)
	t.mu.Unlock()
	if ok {
		t.notify()
	}
}

func (t *idleTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *idleTracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// wait blocks until the request count has stayed at or below maxInflight
// for the whole window. Every change in the count restarts the window.
func (t *idleTracker) wait(ctx context.Context) error {
	timer := time.NewTimer(t.window)
	defer timer.Stop()

	if t.count() > t.maxInflight {
		timer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.changed:
			timer.Stop()
			if t.count() <= t.maxInflight {
				timer.Reset(t.window)
			}
		case <-timer.C:
			if t.count() <= t.maxInflight {
				return nil
			}
		}
	}
}
