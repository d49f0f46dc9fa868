package queue

import "time"

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDefaultQueue sets the queue used when ScheduleAt gets no WithQueue.
func WithDefaultQueue(queue string) SchedulerOption {
	return func(s *Scheduler) {
		if queue != "" {
			s.defaultQueue = queue
		}
	}
}

// WithDefaultMaxAttempts sets the attempts granted to new tasks.
func WithDefaultMaxAttempts(n int8) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.defaultMaxAttempts = n
		}
	}
}

// WithSchedulerClock overrides the clock used to stamp CreatedAt.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// ScheduleOption configures a single ScheduleAt call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	queue       string
	name        string
	maxAttempts int8
}

// WithQueue routes the task to queue.
func WithQueue(queue string) ScheduleOption {
	return func(o *scheduleOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithTaskName sets the handler name, overriding the payload type name.
func WithTaskName(name string) ScheduleOption {
	return func(o *scheduleOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithMaxAttempts sets how many times the task may be tried.
func WithMaxAttempts(n int8) ScheduleOption {
	return func(o *scheduleOptions) {
		o.maxAttempts = n
	}
}
