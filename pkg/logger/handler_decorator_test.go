package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

type tenantKey struct{}

func tenantFromContext(ctx context.Context) (slog.Attr, bool) {
	v, ok := ctx.Value(tenantKey{}).(string)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.String("tenant", v), true
}

func TestLogHandlerDecorator(t *testing.T) {
	t.Parallel()

	t.Run("extracts per call", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := slog.New(logger.NewLogHandlerDecorator(slog.NewJSONHandler(&buf, nil), tenantFromContext, nil))

		log.InfoContext(context.WithValue(context.Background(), tenantKey{}, "acme"), "first")
		assert.Equal(t, "acme", decode(t, &buf)["tenant"])

		buf.Reset()
		log.InfoContext(context.Background(), "second")
		_, ok := decode(t, &buf)["tenant"]
		assert.False(t, ok, "nothing cached from the previous call")
	})

	t.Run("attrs and groups keep extractors", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := slog.New(logger.NewLogHandlerDecorator(slog.NewJSONHandler(&buf, nil), tenantFromContext)).
			With(slog.String("component", "bus")).
			WithGroup("req")

		log.InfoContext(context.WithValue(context.Background(), tenantKey{}, "acme"), "hello")
		entry := decode(t, &buf)
		assert.Equal(t, "bus", entry["component"])
		group, ok := entry["req"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "acme", group["tenant"])
	})

	t.Run("level comes from the wrapped handler", func(t *testing.T) {
		t.Parallel()
		h := logger.NewLogHandlerDecorator(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
		assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	})
}
