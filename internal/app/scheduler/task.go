// Package scheduler provides a cancellable one-shot task that carries its
// own generation counter. Rescheduling supersedes the previous schedule, so
// a stale timer firing after a cancel or reschedule is a silent no-op.
package scheduler

import (
	"sync"
	"time"
)

// Task is a reusable one-shot timer slot. Schedule replaces any pending
// callback; Cancel invalidates it. The zero value is ready to use.
type Task struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Schedule arranges for fn to run after d, superseding any pending
// schedule. Returns the generation assigned to this schedule.
func (t *Task) Schedule(d time.Duration, fn func()) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stale := t.gen != gen
		t.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
	return gen
}

// Cancel invalidates any pending schedule.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Generation returns the current generation counter. A callback scheduled
// earlier observes a different generation after any Schedule or Cancel.
func (t *Task) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}
