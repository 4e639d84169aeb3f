// Package signal holds small concurrency helpers: an idle-activity timer
// used by the TCP DNS transport, adapted from the teacher's
// common/signal.ActivityTimer.
package signal

import (
	"sync"
	"sync/atomic"
	"time"
)

// ActivityTimer fires onTimeout once no Update() call has arrived within the
// configured timeout. Used by the TCP DNS endpoint to close idle
// connections per spec.md §4.6 (dns_tcp_idle_time).
type ActivityTimer struct {
	mu        sync.Mutex
	timer     *time.Timer
	onTimeout func()
	consumed  atomic.Bool
	once      sync.Once
}

// NewActivityTimer starts a timer that calls onTimeout after timeout with no
// intervening Update call.
func NewActivityTimer(timeout time.Duration, onTimeout func()) *ActivityTimer {
	t := &ActivityTimer{onTimeout: onTimeout}
	t.mu.Lock()
	t.timer = time.AfterFunc(timeout, t.finish)
	t.mu.Unlock()
	return t
}

// Update resets the idle deadline; call it once per framed message read.
func (t *ActivityTimer) Update(timeout time.Duration) {
	if t.consumed.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Reset(timeout)
	}
}

func (t *ActivityTimer) finish() {
	t.once.Do(func() {
		t.consumed.Store(true)
		t.onTimeout()
	})
}

// Stop cancels the timer without firing onTimeout, e.g. on graceful close.
func (t *ActivityTimer) Stop() {
	t.consumed.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
