package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnceFiresExactlyOnce(t *testing.T) {
	var n int32
	tm := New(10*time.Millisecond, Once, func() { atomic.AddInt32(&n, 1) })
	defer tm.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestPeriodicReArms(t *testing.T) {
	var n int32
	tm := New(10*time.Millisecond, Periodic, func() { atomic.AddInt32(&n, 1) })
	defer tm.Stop()
	time.Sleep(55 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&n), int32(3))
}

func TestStopCancelsPending(t *testing.T) {
	var n int32
	tm := New(20*time.Millisecond, Once, func() { atomic.AddInt32(&n, 1) })
	tm.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&n))
}

func TestStopIsIdempotent(t *testing.T) {
	tm := New(time.Second, Once, func() {})
	tm.Stop()
	assert.NotPanics(t, func() { tm.Stop() })
}

func TestStopOnNilIsNoop(t *testing.T) {
	var tm *Timer
	assert.NotPanics(t, func() { tm.Stop() })
}

func TestRefreshExtendsDeadline(t *testing.T) {
	var n int32
	tm := New(30*time.Millisecond, Once, func() { atomic.AddInt32(&n, 1) })
	defer tm.Stop()
	time.Sleep(15 * time.Millisecond)
	tm.Refresh()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&n))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&n))
}
