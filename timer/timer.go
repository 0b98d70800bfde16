// Package timer provides the uniform periodic/one-shot timer
// abstraction the Peer FSM arms for idle-hold, connect-retry, hold
// and keepalive. The teacher (server/fsm.go) hand-rolls this pattern
// inline with time.NewTimer/time.NewTicker per state function; this
// package generalizes it into one reusable type so every timer in
// server.PeerTimer is constructed and cancelled the same way.
package timer

import (
	"sync"
	"time"
)

type Kind int

const (
	Once Kind = iota
	Periodic
)

// Timer wraps a single time.Timer (re-armed after each firing when
// Periodic) behind a type that supports Refresh (reset without
// reconstructing) and Stop (cancellation). The callback runs on the
// timer's own goroutine and must not block: in this daemon it only
// posts an event into a mailbox channel.
type Timer struct {
	mu       sync.Mutex
	d        time.Duration
	kind     Kind
	callback func()
	t        *time.Timer
	stopped  bool
	done     chan struct{}
}

func New(d time.Duration, kind Kind, callback func()) *Timer {
	tm := &Timer{
		d:        d,
		kind:     kind,
		callback: callback,
		t:        time.NewTimer(d),
		done:     make(chan struct{}),
	}
	go tm.run()
	return tm
}

func (tm *Timer) run() {
	for {
		select {
		case <-tm.t.C:
			tm.callback()
			tm.mu.Lock()
			if tm.kind != Periodic || tm.stopped {
				tm.mu.Unlock()
				return
			}
			tm.t.Reset(tm.d)
			tm.mu.Unlock()
		case <-tm.done:
			return
		}
	}
}

// Refresh resets the remaining time to the original duration without
// reconstructing the timer, matching spec §4.2's refresh() contract
// (used on every inbound packet while Established, P4).
func (tm *Timer) Refresh() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return
	}
	if !tm.t.Stop() {
		select {
		case <-tm.t.C:
		default:
		}
	}
	tm.t.Reset(tm.d)
}

// Stop cancels the timer. Safe to call more than once (the FSM's
// Idle cleanup is idempotent per spec §9 Open Question 5) and safe to
// call on a nil *Timer, so callers can always write `timer.Stop()`
// even when the field was never armed.
func (tm *Timer) Stop() {
	if tm == nil {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return
	}
	tm.stopped = true
	tm.t.Stop()
	close(tm.done)
}
