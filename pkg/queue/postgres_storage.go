package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// PostgresStorage implements SchedulerRepository and WorkerRepository on
// the queue_tasks and queue_dead_letters tables. CreateTask joins the
// transaction carried by ctx, so a task commits or rolls back with the
// writes that scheduled it.
type PostgresStorage struct {
	db      pg.Querier
	backoff time.Duration
}

// NewPostgresStorage creates a storage on db. backoff is the delay added
// per failed attempt.
func NewPostgresStorage(db pg.Querier, backoff time.Duration) *PostgresStorage {
	return &PostgresStorage{db: db, backoff: backoff}
}

const taskColumns = `id, queue, name, payload, status, attempts, max_attempts, due_at,
	locked_until, locked_by, processed_at, error, created_at`

// CreateTask implements SchedulerRepository.
func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	_, err := pg.QuerierFrom(ctx, s.db).Exec(ctx, `
		INSERT INTO queue_tasks (id, queue, name, payload, status, attempts, max_attempts, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.Queue, task.Name, []byte(task.Payload), task.Status,
		task.Attempts, task.MaxAttempts, task.DueAt, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask implements WorkerRepository. Rows locked by other workers are
// skipped, and processing rows whose lock expired are claimable again.
func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := pg.QuerierFrom(ctx, s.db).QueryRow(ctx, `
		UPDATE queue_tasks
		SET status = 'processing', locked_by = $2, locked_until = now() + $3::interval
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($1)
			  AND due_at <= now()
			  AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			ORDER BY due_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queues, workerID, lockDuration)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// CompleteTask implements WorkerRepository.
func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := pg.QuerierFrom(ctx, s.db).Exec(ctx, `
		UPDATE queue_tasks
		SET status = 'completed', processed_at = now(), locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

// FailTask implements WorkerRepository.
func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	tag, err := pg.QuerierFrom(ctx, s.db).Exec(ctx, `
		UPDATE queue_tasks
		SET attempts = attempts + 1,
		    error = $2,
		    locked_until = NULL,
		    locked_by = NULL,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    due_at = CASE WHEN attempts + 1 >= max_attempts THEN due_at
		                  ELSE now() + (attempts + 1) * $3::interval END
		WHERE id = $1 AND status = 'processing'`, taskID, errorMsg, s.backoff)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

// MoveToDLQ implements WorkerRepository.
func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tag, err := pg.QuerierFrom(ctx, s.db).Exec(ctx, `
		WITH moved AS (
			DELETE FROM queue_tasks WHERE id = $1
			RETURNING id, queue, name, payload, error, attempts
		)
		INSERT INTO queue_dead_letters (id, task_id, queue, name, payload, error, attempts, failed_at, created_at)
		SELECT $2, id, queue, name, payload, COALESCE(error, ''), attempts, now(), now() FROM moved`,
		taskID, uuid.New())
	if err != nil {
		return fmt.Errorf("move task to dead letters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// ExtendLock implements WorkerRepository.
func (s *PostgresStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := pg.QuerierFrom(ctx, s.db).Exec(ctx, `
		UPDATE queue_tasks SET locked_until = now() + $2::interval
		WHERE id = $1 AND status = 'processing'`, taskID, duration)
	if err != nil {
		return fmt.Errorf("extend task lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var payload []byte
	if err := row.Scan(&t.ID, &t.Queue, &t.Name, &payload, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.DueAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Payload = payload
	return &t, nil
}
