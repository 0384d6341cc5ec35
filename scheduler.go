package tinkerpen

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period that must follow the last edit
// before an automatic run.
const DefaultDebounce = 500 * time.Millisecond

// SchedulerState is the state of a Scheduler.
type SchedulerState int

const (
	// StateIdle means no run is pending.
	StateIdle SchedulerState = iota
	// StatePending means a timer is armed and will trigger a run.
	StatePending
)

func (s SchedulerState) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// Scheduler is a trailing-edge debouncer. Every Schedule call cancels the
// pending timer, if any, and arms a new one, so only the last call in a
// burst fires. At most one timer is live at a time.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	fire    func()
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewScheduler creates an idle scheduler that calls fire once the delay
// has elapsed after the most recent Schedule.
func NewScheduler(delay time.Duration, fire func()) *Scheduler {
	if fire == nil {
		panic("tinkerpen: NewScheduler requires a fire func")
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{delay: delay, fire: fire}
}

// Delay returns the debounce window.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule arms the timer, replacing any pending one.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked()

	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.onTimer(gen) })
}

// Cancel disarms a pending timer. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

// State reports whether a run is pending.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return StatePending
	}
	return StateIdle
}

// Stop cancels any pending timer and ignores further Schedule calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.stopped = true
}

func (s *Scheduler) cancelLocked() bool {
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	// a timer that already fired but has not taken the lock yet sees a
	// newer generation and does nothing
	s.gen++
	return true
}

func (s *Scheduler) onTimer(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.fire()
}
