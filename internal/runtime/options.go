package runtime

import "time"

type SchedulerOptions func(s *Scheduler)

// WithWorkers sets how many jobs may execute at once. Values below 1 mean 1.
func WithWorkers(n int) SchedulerOptions {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}

func WithPollInterval(d time.Duration) SchedulerOptions {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithJobTimeout is the execution timeout of stages registered without one.
func WithJobTimeout(d time.Duration) SchedulerOptions {
	return func(s *Scheduler) {
		s.jobTimeout = d
	}
}

func WithTracker(t EntityTracker) SchedulerOptions {
	return func(s *Scheduler) {
		s.tracker = t
	}
}

// WithEnabled sets the initial state of the background execution gate.
func WithEnabled(enabled bool) SchedulerOptions {
	return func(s *Scheduler) {
		s.enabled.Store(enabled)
	}
}
