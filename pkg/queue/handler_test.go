package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

type handlerTestPayload struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	t.Run("is named after the payload type", func(t *testing.T) {
		t.Parallel()

		h := queue.NewHandler(func(context.Context, handlerTestPayload) error { return nil })
		assert.Equal(t, "queue_test.handlerTestPayload", h.Name())

		ptr := queue.NewHandler(func(context.Context, *handlerTestPayload) error { return nil })
		assert.Equal(t, "queue_test.handlerTestPayload", ptr.Name())
	})

	t.Run("decodes the payload", func(t *testing.T) {
		t.Parallel()

		var got handlerTestPayload
		h := queue.NewHandler(func(_ context.Context, p handlerTestPayload) error {
			got = p
			return nil
		})

		raw, err := json.Marshal(handlerTestPayload{Message: "hi", Value: 7})
		require.NoError(t, err)
		require.NoError(t, h.Handle(context.Background(), raw))
		assert.Equal(t, handlerTestPayload{Message: "hi", Value: 7}, got)
	})

	t.Run("returns decode errors", func(t *testing.T) {
		t.Parallel()

		h := queue.NewHandler(func(context.Context, handlerTestPayload) error { return nil })
		err := h.Handle(context.Background(), json.RawMessage(`{"value":"nope"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode")
	})

	t.Run("propagates handler errors", func(t *testing.T) {
		t.Parallel()

		want := errors.New("handler failed")
		h := queue.NewHandler(func(context.Context, handlerTestPayload) error { return want })
		assert.ErrorIs(t, h.Handle(context.Background(), json.RawMessage(`{}`)), want)
	})
}

func TestNewNamedHandler(t *testing.T) {
	t.Parallel()

	h := queue.NewNamedHandler("custom", func(context.Context, handlerTestPayload) error { return nil })
	assert.Equal(t, "custom", h.Name())
}
