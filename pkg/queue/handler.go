package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes the payload of tasks registered under Name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc handles a decoded payload.
type HandlerFunc[T any] func(ctx context.Context, payload T) error

// NewHandler returns a Handler for payloads of type T, named after the type.
// Tasks scheduled with a T payload and no explicit name are routed to it.
func NewHandler[T any](fn HandlerFunc[T]) Handler {
	var zero T
	return NewNamedHandler(qualifiedStructName(zero), fn)
}

// NewNamedHandler returns a Handler for payloads of type T under name.
func NewNamedHandler[T any](name string, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{name: name, fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   HandlerFunc[T]
}

// Name implements Handler.
func (h *typedHandler[T]) Name() string {
	return h.name
}

// Handle decodes payload into T. A payload that does not decode is a task
// failure like any handler error and goes through the retry policy.
func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.fn(ctx, v)
}
