package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// WorkerRepository is the storage side of a Worker.
type WorkerRepository interface {
	// ClaimTask locks the next due task of queues, or returns ErrNoTaskToClaim.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records a failed attempt and reschedules the task if it has attempts left.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// Worker polls WorkerRepository for due tasks and dispatches them to the
// registered handlers, at most maxConcurrentTasks at a time.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // guards stopping together with wg.Add

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger
	metrics      *workerMetrics

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a Worker on repo.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	o := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       time.Second,
		lockTimeout:        5 * time.Minute,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       o.queues,
		workerID:     uuid.New(),
		sem:          make(chan struct{}, o.maxConcurrentTasks),
		pullInterval: o.pullInterval,
		lockTimeout:  o.lockTimeout,
		logger:       o.logger.With(logger.Component("queue.worker")),
		metrics:      o.metrics,
	}, nil
}

// RegisterHandlers adds handlers, replacing any registered under the same name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins polling in the background. It fails with ErrNoHandlers when
// nothing is registered and with ErrWorkerStarted on a second call.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))
	return nil
}

// Stop cancels polling and waits for in-flight tasks to finish. Handlers
// keep their own deadline, bounded by the lock timeout, while draining.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run returns a function for errgroup that runs the worker until ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

// run is the poll loop. A tick claims at most one task and only when a
// concurrency slot is free, so a saturated worker skips ticks.
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
			default:
				continue // all slots busy
			}

			w.stopMu.Lock()
			if w.stopping.Load() {
				w.stopMu.Unlock()
				<-w.sem
				return
			}
			w.wg.Add(1)
			w.stopMu.Unlock()

			go func() {
				defer w.wg.Done()
				defer func() { <-w.sem }()
				if err := w.pullAndProcess(); err != nil && !errors.Is(err, ErrHandlerNotFound) {
					w.logger.Error("failed to process task",
						slog.String("worker_id", w.workerID.String()),
						logger.Error(err))
				}
			}()
		}
	}
}

// pullAndProcess claims and processes one task. An empty queue is not an error.
func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoTaskToClaim) || (err == nil && task == nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	return w.processTask(task)
}

// processTask dispatches task to its handler and records the outcome.
// A panicking handler counts as a failed attempt.
func (w *Worker) processTask(task *Task) (err error) {
	start := time.Now()
	log := w.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.Name),
		slog.String("queue", task.Queue))

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", slog.Any("panic", r))
			err = w.fail(log, task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.Name]
	w.mu.RUnlock()
	if !ok {
		return w.deadLetter(log, task)
	}

	// Handlers outlive the poll loop so shutdown can drain them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.lockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, task.Payload); err != nil {
		return w.fail(log, task, err, time.Since(start))
	}

	if err := w.repo.CompleteTask(w.ctx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}
	w.metrics.observe(task, resultCompleted, time.Since(start))
	log.Debug("task completed", logger.Duration(time.Since(start)))
	return nil
}

// deadLetter moves a task without a handler straight to the dead letter
// queue; retrying cannot succeed until a handler is deployed.
func (w *Worker) deadLetter(log *slog.Logger, task *Task) error {
	log.Error("no handler registered for task")

	if err := w.repo.FailTask(w.ctx, task.ID, "no handler registered for task: "+task.Name); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to dead letters: %w", task.ID, err)
	}
	w.metrics.observe(task, resultDeadLettered, 0)
	return ErrHandlerNotFound
}

// fail records the attempt. The claimed copy still holds the attempt count
// from before FailTask, hence the +1.
func (w *Worker) fail(log *slog.Logger, task *Task, execErr error, d time.Duration) error {
	log.Error("task failed",
		logger.RetryCount(int(task.Attempts)+1),
		slog.Int("max_attempts", int(task.MaxAttempts)),
		logger.Duration(d),
		logger.Error(execErr))

	if err := w.repo.FailTask(w.ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if task.Attempts+1 < task.MaxAttempts {
		w.metrics.observe(task, resultRetried, d)
		return nil
	}

	if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to dead letters: %w", task.ID, err)
	}
	w.metrics.observe(task, resultDeadLettered, d)
	log.Warn("task moved to dead letter queue")
	return nil
}

// ExtendLock extends the lock of a long-running task.
func (w *Worker) ExtendLock(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// ID returns the worker id used to lock tasks.
func (w *Worker) ID() uuid.UUID {
	return w.workerID
}
