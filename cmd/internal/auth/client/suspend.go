package client

import (
	"context"
	"sync"
	"time"
)

const (
	suspendTickInterval = 30 * time.Second
	// A wall-clock gap of this many ticks means the process slept.
	suspendGapFactor = 3
)

// SuspendMonitor tracks system suspend state for desktop clients.
//
// Refreshing while the system is suspended is unreliable: the network call may
// fail in ways indistinguishable from a credential rejection and force a false
// logout. The coordinator therefore skips refresh entirely while Suspended()
// reports true, and resume invalidates the credential cache so the next read
// is fresh.
//
// State comes from two sources: explicit MarkSuspended/MarkResumed hooks (wired
// to OS power notifications by the desktop shell) and a wall-clock gap detector
// for platforms without reliable notifications.
type SuspendMonitor struct {
	mu        sync.Mutex
	suspended bool
	onResume  []func()
}

// NewSuspendMonitor constructs a monitor in the running state.
func NewSuspendMonitor() *SuspendMonitor { return &SuspendMonitor{} }

// Suspended reports whether the system is currently believed suspended.
func (m *SuspendMonitor) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

// MarkSuspended records an OS suspend notification.
func (m *SuspendMonitor) MarkSuspended() {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
}

// MarkResumed records an OS resume notification and fires resume callbacks.
func (m *SuspendMonitor) MarkResumed() {
	m.mu.Lock()
	m.suspended = false
	callbacks := append([]func(){}, m.onResume...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// NotifyResume registers fn to run on every resume (including gap-detected ones).
func (m *SuspendMonitor) NotifyResume(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onResume = append(m.onResume, fn)
	m.mu.Unlock()
}

// Run drives the wall-clock gap detector until ctx is done.
//
// While the OS sleeps, the ticker does not fire; the first tick after resume
// observes a gap far larger than the interval and is treated as a resume.
func (m *SuspendMonitor) Run(ctx context.Context) {
	t := time.NewTicker(suspendTickInterval)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if now.Sub(last) > suspendGapFactor*suspendTickInterval {
				m.MarkResumed()
			}
			last = now
		}
	}
}
