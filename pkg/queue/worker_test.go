package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

type MockWorkerRepository struct {
	mock.Mock
}

func (m *MockWorkerRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	args := m.Called(ctx, workerID, queues, lockDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockWorkerRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return m.Called(ctx, taskID, errorMsg).Error(0)
}

func (m *MockWorkerRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *MockWorkerRepository) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	return m.Called(ctx, taskID, duration).Error(0)
}

func claimedTask(t *testing.T, payload handlerTestPayload, attempts, maxAttempts int8) *queue.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       queue.DefaultQueueName,
		Name:        "queue_test.handlerTestPayload",
		Payload:     raw,
		Status:      queue.TaskStatusProcessing,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		DueAt:       time.Now().Add(-time.Minute),
		CreatedAt:   time.Now().Add(-time.Minute),
	}
}

func expectClaims(repo *MockWorkerRepository, task *queue.Task) {
	repo.On("ClaimTask", mock.Anything, mock.Anything, []string{queue.DefaultQueueName}, mock.Anything).
		Return(task, nil).Once()
	repo.On("ClaimTask", mock.Anything, mock.Anything, []string{queue.DefaultQueueName}, mock.Anything).
		Return(nil, queue.ErrNoTaskToClaim).Maybe()
}

func TestWorker_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewWorker(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})

	t.Run("start requires handlers", func(t *testing.T) {
		t.Parallel()
		w, err := queue.NewWorker(new(MockWorkerRepository))
		require.NoError(t, err)
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
	})

	t.Run("start and stop", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error { return nil }))

		assert.ErrorIs(t, w.Stop(), queue.ErrWorkerNotStarted)
		require.NoError(t, w.Start(context.Background()))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrWorkerStarted)
		require.NoError(t, w.Stop())
	})

	t.Run("run stops with the context", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		repo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error { return nil }))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx)() }()

		time.Sleep(30 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
}

func TestWorker_ProcessTask(t *testing.T) {
	t.Parallel()

	t.Run("completes a successful task", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := claimedTask(t, handlerTestPayload{Message: "ok", Value: 1}, 0, 3)
		expectClaims(repo, task)
		completed := make(chan struct{})
		repo.On("CompleteTask", mock.Anything, task.ID).Return(nil).Once().
			Run(func(mock.Arguments) { close(completed) })

		reg := prometheus.NewRegistry()
		w, err := queue.NewWorker(repo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerMetrics(reg))
		require.NoError(t, err)

		var got handlerTestPayload
		w.RegisterHandlers(queue.NewHandler(func(_ context.Context, p handlerTestPayload) error {
			got = p
			return nil
		}))
		require.NoError(t, w.Start(context.Background()))

		select {
		case <-completed:
		case <-time.After(2 * time.Second):
			t.Fatal("task not completed in time")
		}
		require.NoError(t, w.Stop())

		assert.Equal(t, "ok", got.Message)
		repo.AssertExpectations(t)
		count, err := testutil.GatherAndCount(reg, "queue_tasks_processed_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("retries a failing task with attempts left", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := claimedTask(t, handlerTestPayload{}, 0, 3)
		expectClaims(repo, task)
		failed := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "processing failed").Return(nil).Once().
			Run(func(mock.Arguments) { close(failed) })

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error {
			return errors.New("processing failed")
		}))
		require.NoError(t, w.Start(context.Background()))

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("task not failed in time")
		}
		require.NoError(t, w.Stop())

		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "MoveToDLQ", mock.Anything, task.ID)
	})

	t.Run("dead-letters a task on its last attempt", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := claimedTask(t, handlerTestPayload{}, 2, 3)
		expectClaims(repo, task)
		moved := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "processing failed").Return(nil).Once()
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().
			Run(func(mock.Arguments) { close(moved) })

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error {
			return errors.New("processing failed")
		}))
		require.NoError(t, w.Start(context.Background()))

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task not dead-lettered in time")
		}
		require.NoError(t, w.Stop())
		repo.AssertExpectations(t)
	})

	t.Run("dead-letters a task without handler", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := claimedTask(t, handlerTestPayload{}, 0, 3)
		task.Name = "unknown"
		expectClaims(repo, task)
		moved := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "no handler registered for task: unknown").Return(nil).Once()
		repo.On("MoveToDLQ", mock.Anything, task.ID).Return(nil).Once().
			Run(func(mock.Arguments) { close(moved) })

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error { return nil }))
		require.NoError(t, w.Start(context.Background()))

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("task not dead-lettered in time")
		}
		require.NoError(t, w.Stop())
		repo.AssertExpectations(t)
	})

	t.Run("treats a panic as a failure", func(t *testing.T) {
		t.Parallel()

		repo := new(MockWorkerRepository)
		task := claimedTask(t, handlerTestPayload{}, 0, 3)
		expectClaims(repo, task)
		failed := make(chan struct{})
		repo.On("FailTask", mock.Anything, task.ID, "panic in handler: boom").Return(nil).Once().
			Run(func(mock.Arguments) { close(failed) })

		w, err := queue.NewWorker(repo, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error { panic("boom") }))
		require.NoError(t, w.Start(context.Background()))

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("panic not recorded in time")
		}
		require.NoError(t, w.Stop())
	})
}

func TestWorker_WithMemoryStorage(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	s, err := queue.NewScheduler(storage)
	require.NoError(t, err)

	var handled atomic.Int32
	w, err := queue.NewWorker(storage,
		queue.WithPullInterval(5*time.Millisecond),
		queue.WithMaxConcurrentTasks(4))
	require.NoError(t, err)
	w.RegisterHandlers(queue.NewHandler(func(context.Context, handlerTestPayload) error {
		handled.Add(1)
		return nil
	}))

	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.ScheduleAt(ctx, time.Now().Add(-time.Second), handlerTestPayload{Value: i}))
	}
	require.NoError(t, s.ScheduleAt(ctx, time.Now().Add(time.Hour), handlerTestPayload{Value: 99}))

	require.NoError(t, w.Start(ctx))
	assert.Eventually(t, func() bool { return handled.Load() == 5 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	var pending int
	for _, task := range storage.Tasks() {
		if task.Status == queue.TaskStatusPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending, "the future task stays pending")
}
