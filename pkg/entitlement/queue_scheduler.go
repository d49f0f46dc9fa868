package entitlement

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// NotificationQueue is the queue entitlement notifications are scheduled on.
const NotificationQueue = "entitlement"

// QueueScheduler implements Scheduler on a durable task queue.
type QueueScheduler struct {
	scheduler *queue.Scheduler
}

// NewQueueScheduler wraps s.
func NewQueueScheduler(s *queue.Scheduler) *QueueScheduler {
	return &QueueScheduler{scheduler: s}
}

// ScheduleAt implements Scheduler.
func (q *QueueScheduler) ScheduleAt(ctx context.Context, at time.Time, key NotificationKey) error {
	return q.scheduler.ScheduleAt(ctx, at, key, queue.WithQueue(NotificationQueue))
}

// NewNotificationHandler returns the queue handler that feeds due
// notifications back into svc.
func NewNotificationHandler(svc Service) queue.Handler {
	return queue.NewHandler(func(ctx context.Context, key NotificationKey) error {
		return svc.ProcessNotification(ctx, key)
	})
}
