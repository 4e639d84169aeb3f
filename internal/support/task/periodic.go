// Package task provides small run-loop primitives shared by the notifier
// and backup scheduler, adapted from the teacher's
// common/task.Periodic.
package task

import (
	"sync"
	"time"

	"github.com/nsblast/nsblast/internal/xlog"
)

// Periodic runs Execute every Interval until Close is called. A run that
// returns an error is logged, not fatal; the next tick still fires.
type Periodic struct {
	Interval time.Duration
	Execute  func() error

	access  sync.Mutex
	timer   *time.Timer
	running bool
}

func (t *Periodic) hasClosed() bool {
	t.access.Lock()
	defer t.access.Unlock()
	return !t.running
}

func (t *Periodic) checkedExecute() {
	if t.hasClosed() {
		return
	}
	if err := t.Execute(); err != nil {
		xlog.New("periodic task execution failed").Base(err).AtWarning().WriteToLog()
	}
	t.access.Lock()
	if t.running {
		t.timer = time.AfterFunc(t.Interval, t.checkedExecute)
	}
	t.access.Unlock()
}

// Start begins the periodic loop; it is a no-op if already running.
func (t *Periodic) Start() error {
	t.access.Lock()
	if t.running {
		t.access.Unlock()
		return nil
	}
	t.running = true
	t.access.Unlock()

	go t.checkedExecute()
	return nil
}

// Close stops the loop. Safe to call more than once.
func (t *Periodic) Close() error {
	t.access.Lock()
	defer t.access.Unlock()
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return nil
}
