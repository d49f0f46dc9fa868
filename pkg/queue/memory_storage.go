package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements SchedulerRepository and WorkerRepository in
// memory, for tests and local development. It does not take part in
// caller transactions.
type MemoryStorage struct {
	mu      sync.RWMutex
	tasks   map[uuid.UUID]*Task
	dlq     []DeadLetter
	now     func() time.Time
	backoff time.Duration

	lockTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithMemoryClock overrides the clock used for due dates and locks.
func WithMemoryClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

// WithMemoryRetryBackoff sets the delay added per failed attempt.
func WithMemoryRetryBackoff(d time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if d >= 0 {
			ms.backoff = d
		}
	}
}

// NewMemoryStorage creates an in-memory storage and starts its lock
// expiration loop. Call Close to stop it.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:   make(map[uuid.UUID]*Task),
		now:     time.Now,
		backoff: 30 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	ms.lockTicker = time.NewTicker(time.Second)
	go ms.expireLocksLoop()

	return ms
}

// Close stops the lock expiration loop.
func (ms *MemoryStorage) Close() error {
	ms.closeOnce.Do(func() {
		close(ms.done)
		ms.lockTicker.Stop()
	})
	return nil
}

// CreateTask implements SchedulerRepository.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	cp := *task
	ms.tasks[task.ID] = &cp
	return nil
}

// ClaimTask implements WorkerRepository. The pending task with the earliest
// due date wins, creation time breaks ties.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, task := range ms.tasks {
		if task.Status != TaskStatusPending || !slices.Contains(queues, task.Queue) || task.DueAt.After(now) {
			continue
		}
		if best == nil || compareDue(task, best) < 0 {
			best = task
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

// CompleteTask implements WorkerRepository.
func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	now := ms.now()
	task.Status = TaskStatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	return nil
}

// FailTask implements WorkerRepository. A task with attempts left goes back
// to pending, due again after Attempts times the retry backoff.
func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	task.Attempts++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.Exhausted() {
		task.Status = TaskStatusFailed
		return nil
	}
	task.Status = TaskStatusPending
	task.DueAt = ms.now().Add(time.Duration(task.Attempts) * ms.backoff)
	return nil
}

// MoveToDLQ implements WorkerRepository.
func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	now := ms.now()
	dl := DeadLetter{
		ID:        uuid.New(),
		TaskID:    task.ID,
		Queue:     task.Queue,
		Name:      task.Name,
		Payload:   task.Payload,
		Attempts:  task.Attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	if task.Error != nil {
		dl.Error = *task.Error
	}
	ms.dlq = append(ms.dlq, dl)
	delete(ms.tasks, taskID)
	return nil
}

// ExtendLock implements WorkerRepository.
func (ms *MemoryStorage) ExtendLock(_ context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	lockUntil := ms.now().Add(duration)
	task.LockedUntil = &lockUntil
	return nil
}

// Tasks returns copies of the stored tasks ordered by due date.
func (ms *MemoryStorage) Tasks() []Task {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]Task, 0, len(ms.tasks))
	for _, task := range ms.tasks {
		out = append(out, *task)
	}
	slices.SortFunc(out, func(a, b Task) int { return compareDue(&a, &b) })
	return out
}

// DeadLetters returns the dead letter queue in insertion order.
func (ms *MemoryStorage) DeadLetters() []DeadLetter {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.dlq)
}

func (ms *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return task, nil
}

// expireLocksLoop returns tasks held by crashed or stuck workers to pending.
func (ms *MemoryStorage) expireLocksLoop() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

func (ms *MemoryStorage) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for _, task := range ms.tasks {
		if task.Status == TaskStatusProcessing && task.LockedUntil != nil && task.LockedUntil.Before(now) {
			task.Status = TaskStatusPending
			task.LockedUntil = nil
			task.LockedBy = nil
		}
	}
}

func compareDue(a, b *Task) int {
	if c := a.DueAt.Compare(b.DueAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}
