package quictime

import (
	"sync"
	"sync/atomic"
	"time"
)

// Alarm is a single-fire, rearmable deadline callback. It is the Go
// realization of spec.md §5's alarm facility (set_deadline/cancel/
// permanent_cancel/is_set), used for the retransmission timer, the
// idle-network detector, the ack alarm, the pacing send alarm and the ping
// alarm.
//
// Grounded on common/signal/timer.go's ActivityTimer, whose single-fire
// latch (consumed, guarded by sync.Once) is replaced here by a generation
// counter: each Set or Cancel bumps it, and a timer callback carrying a stale
// generation does nothing. Built directly on time.AfterFunc instead of on
// the teacher's common/task.Periodic, since an Alarm fires once per arm
// rather than repeating on a fixed interval.
type Alarm struct {
	mu               sync.Mutex
	timer            *time.Timer
	deadline         Time
	onFire           func()
	permanentlyOff   atomic.Bool
	firedGeneration  uint64
}

// NewAlarm creates an Alarm that calls onFire when it expires. onFire runs
// on its own goroutine, as the teacher's ActivityTimer.check does; callers
// that touch connection state from onFire are responsible for handing the
// work back to the connection's single-threaded context (spec.md §5).
func NewAlarm(onFire func()) *Alarm {
	return &Alarm{onFire: onFire}
}

// Set arms (or re-arms) the alarm to fire at deadline, replacing any
// previous pending fire.
func (a *Alarm) Set(now Time, deadline Time) {
	if a.permanentlyOff.Load() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.firedGeneration++
	gen := a.firedGeneration
	if a.timer != nil {
		a.timer.Stop()
	}
	a.deadline = deadline
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	a.timer = time.AfterFunc(d.Std(), func() { a.fire(gen) })
}

func (a *Alarm) fire(gen uint64) {
	a.mu.Lock()
	current := a.firedGeneration
	off := a.permanentlyOff.Load()
	if !off && gen == current {
		a.timer = nil
		a.deadline = Zero()
	}
	a.mu.Unlock()
	if off || gen != current {
		return
	}
	a.onFire()
}

// Cancel disarms the alarm without preventing future Set calls.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.firedGeneration++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.deadline = Zero()
}

// PermanentCancel disarms the alarm and prevents any future Set from
// re-arming it, matching connection-close tearing down every alarm
// (spec.md §5).
func (a *Alarm) PermanentCancel() {
	a.Cancel()
	a.permanentlyOff.Store(true)
}

// IsSet reports whether the alarm currently has a pending deadline.
func (a *Alarm) IsSet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil && !a.deadline.IsZero()
}

// Deadline returns the currently armed deadline, or the zero Time if unset.
func (a *Alarm) Deadline() Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deadline
}
