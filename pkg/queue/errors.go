package queue

import "errors"

var (
	ErrRepositoryNil      = errors.New("repository cannot be nil")
	ErrPayloadNil         = errors.New("payload cannot be nil")
	ErrPayloadMarshal     = errors.New("failed to marshal payload to JSON")
	ErrTaskCreate         = errors.New("failed to create task in storage")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotProcessing  = errors.New("task is not in processing state")
	ErrNoTaskToClaim      = errors.New("no task available to claim")
	ErrHandlerNotFound    = errors.New("no handler registered for task")
	ErrNoHandlers         = errors.New("no task handlers registered")
	ErrWorkerStarted      = errors.New("worker already started")
	ErrWorkerNotStarted   = errors.New("worker not started")
	ErrInvalidMaxAttempts = errors.New("max attempts must be between 1 and 20")
)
