package monitor

import (
	"sync"
	"time"
)

// Scheduler calls a function repeatedly at a fixed interval. Arming replaces
// any pending tick, so the next one is always measured from the Arm call.
type Scheduler struct {
	mu       sync.Mutex
	fire     func()
	timer    *time.Timer
	interval time.Duration
	next     time.Time
	gen      uint64
}

// NewScheduler creates a disarmed scheduler that calls fire on each tick.
// fire runs on the timer's goroutine and should return quickly.
func NewScheduler(fire func()) *Scheduler {
	return &Scheduler{fire: fire}
}

// Arm starts ticking every interval, replacing any previous schedule.
// Non-positive intervals disarm.
func (s *Scheduler) Arm(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if interval <= 0 {
		return
	}
	s.interval = interval
	s.scheduleLocked(s.gen)
}

// Disarm cancels the pending tick. A tick already firing still completes.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Armed reports whether a tick is pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// NextTick returns when the next tick is due, or the zero time if disarmed.
func (s *Scheduler) NextTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Interval returns the interval of the current schedule.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) stopLocked() {
	// Bumping gen invalidates a callback that already left the timer.
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = time.Time{}
}

func (s *Scheduler) scheduleLocked(gen uint64) {
	s.next = time.Now().Add(s.interval)
	s.timer = time.AfterFunc(s.interval, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.scheduleLocked(gen)
	fire := s.fire
	s.mu.Unlock()

	if fire != nil {
		fire()
	}
}
