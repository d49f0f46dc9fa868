package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchedulerRepository stores new tasks. Implementations that support
// transactions join the one carried by ctx.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Scheduler registers payloads to be processed at a given time.
type Scheduler struct {
	repo               SchedulerRepository
	defaultQueue       string
	defaultMaxAttempts int8
	now                func() time.Time
}

// NewScheduler creates a Scheduler on top of repo.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	s := &Scheduler{
		repo:               repo,
		defaultQueue:       DefaultQueueName,
		defaultMaxAttempts: 5,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScheduleAt stores payload for processing at at. A time in the past makes
// the task claimable on the next poll.
func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time, payload any, opts ...ScheduleOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	o := scheduleOptions{
		queue:       s.defaultQueue,
		maxAttempts: s.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 || o.maxAttempts > 20 {
		return ErrInvalidMaxAttempts
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, fmt.Errorf("payload of type %T: %w", payload, err))
	}
	name := o.name
	if name == "" {
		name = qualifiedStructName(payload)
	}

	task := &Task{
		ID:          uuid.New(),
		Queue:       o.queue,
		Name:        name,
		Payload:     data,
		Status:      TaskStatusPending,
		MaxAttempts: o.maxAttempts,
		DueAt:       at,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return errors.Join(ErrTaskCreate, fmt.Errorf("task %q in queue %q: %w", task.Name, task.Queue, err))
	}
	return nil
}

// Schedule stores payload for processing as soon as possible.
func (s *Scheduler) Schedule(ctx context.Context, payload any, opts ...ScheduleOption) error {
	return s.ScheduleAt(ctx, s.now(), payload, opts...)
}
