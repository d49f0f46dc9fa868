package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

type MockSchedulerRepository struct {
	mock.Mock
}

func (m *MockSchedulerRepository) CreateTask(ctx context.Context, task *queue.Task) error {
	return m.Called(ctx, task).Error(0)
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()

	_, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestScheduler_ScheduleAt(t *testing.T) {
	t.Parallel()

	t.Run("builds a pending task due at the given time", func(t *testing.T) {
		t.Parallel()

		clock := newTestClock()
		repo := new(MockSchedulerRepository)
		defer repo.AssertExpectations(t)

		due := clock.Now().Add(24 * time.Hour)
		repo.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *queue.Task) bool {
			var p handlerTestPayload
			return task.Queue == "billing" &&
				task.Name == "queue_test.handlerTestPayload" &&
				task.Status == queue.TaskStatusPending &&
				task.MaxAttempts == 7 &&
				task.DueAt.Equal(due) &&
				task.CreatedAt.Equal(clock.Now()) &&
				json.Unmarshal(task.Payload, &p) == nil && p.Value == 1
		})).Return(nil).Once()

		s, err := queue.NewScheduler(repo,
			queue.WithDefaultQueue("billing"),
			queue.WithDefaultMaxAttempts(7),
			queue.WithSchedulerClock(clock.Now))
		require.NoError(t, err)

		require.NoError(t, s.ScheduleAt(context.Background(), due, handlerTestPayload{Value: 1}))
	})

	t.Run("per-call options override defaults", func(t *testing.T) {
		t.Parallel()

		repo := new(MockSchedulerRepository)
		defer repo.AssertExpectations(t)
		repo.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *queue.Task) bool {
			return task.Queue == "urgent" && task.Name == "named" && task.MaxAttempts == 2
		})).Return(nil).Once()

		s, err := queue.NewScheduler(repo)
		require.NoError(t, err)
		require.NoError(t, s.Schedule(context.Background(), handlerTestPayload{},
			queue.WithQueue("urgent"),
			queue.WithTaskName("named"),
			queue.WithMaxAttempts(2)))
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()

		s, err := queue.NewScheduler(new(MockSchedulerRepository))
		require.NoError(t, err)

		assert.ErrorIs(t, s.Schedule(context.Background(), nil), queue.ErrPayloadNil)
		assert.ErrorIs(t, s.Schedule(context.Background(), handlerTestPayload{}, queue.WithMaxAttempts(0)), queue.ErrInvalidMaxAttempts)
		assert.ErrorIs(t, s.Schedule(context.Background(), make(chan int)), queue.ErrPayloadMarshal)
	})

	t.Run("wraps storage errors", func(t *testing.T) {
		t.Parallel()

		storageErr := errors.New("db down")
		repo := new(MockSchedulerRepository)
		repo.On("CreateTask", mock.Anything, mock.Anything).Return(storageErr).Once()

		s, err := queue.NewScheduler(repo)
		require.NoError(t, err)

		err = s.Schedule(context.Background(), handlerTestPayload{})
		assert.ErrorIs(t, err, queue.ErrTaskCreate)
		assert.ErrorIs(t, err, storageErr)
	})
}
