// Package queue is a durable task queue for work that must run at a given
// time. A Scheduler stores JSON payloads with a due date, and a Worker polls
// for due tasks and hands them to the Handler registered under the task name.
//
// Storage is behind two small interfaces, SchedulerRepository and
// WorkerRepository. MemoryStorage serves tests and local runs;
// PostgresStorage is the production backend and joins the transaction
// carried in the context, so tasks commit together with the writes that
// scheduled them.
//
// Failed tasks are retried with a linear backoff until MaxAttempts, then
// moved to the dead letter queue. Tasks without a handler go to the dead
// letter queue right away.
//
//	storage := queue.NewPostgresStorage(pool, 30*time.Second)
//	scheduler, _ := queue.NewScheduler(storage)
//	_ = scheduler.ScheduleAt(ctx, dueAt, ReminderPayload{ID: id})
//
//	worker, _ := queue.NewWorker(storage, queue.WithPullInterval(time.Second))
//	worker.RegisterHandlers(queue.NewHandler(func(ctx context.Context, p ReminderPayload) error {
//	    return remind(ctx, p.ID)
//	}))
//	g.Go(worker.Run(ctx))
package queue
