package reminder

import (
	"sync"
	"time"
)

// FireFunc receives a due reminder. It runs on the timer goroutine and should
// hand the work off (to the dispatcher) rather than do it inline.
type FireFunc func(key string, gen uint64)

type entry struct {
	gen   uint64
	timer *time.Timer
	due   time.Time
	fired bool
}

// Scheduler keeps at most one armed reminder per chat key. Every Arm issues a
// new generation; a fired reminder must be claimed with its generation before
// it is delivered, so a cancel or re-arm that races the timer wins.
type Scheduler struct {
	delay  time.Duration
	onFire FireFunc

	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	stopped bool
}

// New builds a scheduler that fires delay after each Arm.
func New(delay time.Duration, onFire FireFunc) *Scheduler {
	return &Scheduler{
		delay:   delay,
		onFire:  onFire,
		entries: make(map[string]*entry),
	}
}

// Delay returns the configured reminder delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Arm (re)starts the reminder for key and returns its generation. Any earlier
// reminder for key is dropped. Returns 0 once the scheduler is stopped.
func (s *Scheduler) Arm(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}

	s.dropLocked(key)

	s.nextGen++
	gen := s.nextGen
	e := &entry{gen: gen, due: time.Now().Add(s.delay)}
	e.timer = time.AfterFunc(s.delay, func() { s.fire(key, gen) })
	s.entries[key] = e

	return gen
}

// Cancel drops the reminder for key. It is a no-op when none is armed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(key)
}

// Claim consumes a fired reminder. It fails when the reminder was canceled or
// re-armed after it fired.
func (s *Scheduler) Claim(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		return false
	}

	delete(s.entries, key)
	return true
}

// Pending returns the due time of the armed reminder for key.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.fired {
		return time.Time{}, false
	}
	return e.due, true
}

// Len returns the number of reminders that are armed or fired but unclaimed.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every reminder and rejects further arming.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key := range s.entries {
		s.dropLocked(key)
	}
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}

	onFire := s.onFire
	if onFire == nil {
		delete(s.entries, key)
		s.mu.Unlock()
		return
	}

	e.fired = true
	s.mu.Unlock()

	onFire(key, gen)
}

func (s *Scheduler) dropLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}

	e.timer.Stop()
	delete(s.entries, key)
	return true
}
