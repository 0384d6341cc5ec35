package tinkerpen

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerCoalesces(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(50*time.Millisecond, func() { fired.Add(1) })
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.Schedule()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StatePending, s.State())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "a burst fires exactly once")
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerCancel(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(20*time.Millisecond, func() { fired.Add(1) })
	defer s.Stop()

	assert.False(t, s.Cancel(), "nothing pending")
	s.Schedule()
	assert.True(t, s.Cancel())
	assert.Equal(t, StateIdle, s.State())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestSchedulerStop(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(10*time.Millisecond, func() { fired.Add(1) })

	s.Schedule()
	s.Stop()
	s.Schedule()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, func() {})
	assert.Equal(t, DefaultDebounce, s.Delay())
	assert.Equal(t, "idle", s.State().String())
	assert.Equal(t, "pending", StatePending.String())

	assert.Panics(t, func() { NewScheduler(time.Second, nil) })
}
