package engine

import (
	"sync"
	"time"
)

// Timer is the minimal timer surface the scheduler needs. Tests substitute a
// manual implementation so debounce behavior is observable without real
// wall-clock waits.
type Timer interface {
	Stop() bool
}

// TimerFactory creates a timer that calls fn once after d elapses.
type TimerFactory func(d time.Duration, fn func()) Timer

func defaultTimerFactory(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// scheduler debounces batch processing. Each Schedule call resets the timer;
// when the timer fires with no intervening Schedule, the fire callback runs.
// Every engine owns its own scheduler, there is no shared global state.
type scheduler struct {
	mu       sync.Mutex
	delay    time.Duration
	newTimer TimerFactory
	fire     func()
	timer    Timer
	stopped  bool
}

func newScheduler(delay time.Duration, factory TimerFactory, fire func()) *scheduler {
	if factory == nil {
		factory = defaultTimerFactory
	}
	return &scheduler{
		delay:    delay,
		newTimer: factory,
		fire:     fire,
	}
}

// Schedule arms the debounce timer, replacing any pending one.
func (s *scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.newTimer(s.delay, s.fire)
}

// Cancel drops any pending timer without firing. Scheduling afterwards
// arms a fresh one.
func (s *scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Stop cancels any pending timer and rejects further scheduling.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stopped = true
}
