package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

const (
	// StartFromBeginning reads the stream from its first record.
	StartFromBeginning = "0"
	// StartFromNow reads only records added after Consume starts.
	StartFromNow = "$"

	fieldKind    = "kind"
	fieldPayload = "payload"
)

// RedisBus publishes events to a Redis Stream.
type RedisBus struct {
	client redis.UniversalClient
	cfg    Config
}

// RedisOption configures a RedisBus.
type RedisOption func(*Config)

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(c *Config) {
		if stream != "" {
			c.Stream = stream
		}
	}
}

// WithMaxLen caps the stream length approximately. Zero disables trimming.
func WithMaxLen(n int64) RedisOption {
	return func(c *Config) {
		if n >= 0 {
			c.MaxLen = n
		}
	}
}

// WithBlockTimeout sets how long one XREAD call waits for new records.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(c *Config) {
		if d > 0 {
			c.BlockTimeout = d
		}
	}
}

// WithBatchSize sets how many records one XREAD call returns at most.
func WithBatchSize(n int64) RedisOption {
	return func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

// WithConfig replaces every setting with cfg. Zero fields keep their defaults.
func WithConfig(cfg Config) RedisOption {
	return func(c *Config) {
		WithStream(cfg.Stream)(c)
		WithMaxLen(cfg.MaxLen)(c)
		WithBlockTimeout(cfg.BlockTimeout)(c)
		WithBatchSize(cfg.BatchSize)(c)
	}
}

// NewRedisBus creates a bus on client.
func NewRedisBus(client redis.UniversalClient, opts ...RedisOption) *RedisBus {
	cfg := Config{
		Stream:       "entitlement-events",
		MaxLen:       100000,
		BatchSize:    100,
		BlockTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisBus{client: client, cfg: cfg}
}

// Stream returns the stream key.
func (b *RedisBus) Stream() string {
	return b.cfg.Stream
}

// Publish implements entitlement.Bus.
func (b *RedisBus) Publish(ctx context.Context, ev entitlement.BusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	args := &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{fieldKind: string(ev.Kind), fieldPayload: payload},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Consume reads the stream after the record id from and calls fn for every
// event in stream order. It returns nil when ctx is done, and the handler's
// error if fn fails. Records that cannot be decoded stop consumption with
// ErrMalformedRecord.
func (b *RedisBus) Consume(ctx context.Context, from string, fn Handler) error {
	last, err := b.resolveStart(ctx, from)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.cfg.Stream, last},
			Count:   b.cfg.BatchSize,
			Block:   b.cfg.BlockTimeout,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return errors.Join(ErrConsumeFailed, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				ev, err := decode(msg)
				if err != nil {
					return err
				}
				if err := fn(ctx, ev); err != nil {
					return err
				}
				last = msg.ID
			}
		}
	}
}

// resolveStart pins StartFromNow to the current last record id so records
// added between two reads are not skipped.
func (b *RedisBus) resolveStart(ctx context.Context, from string) (string, error) {
	if from != "" && from != StartFromNow {
		return from, nil
	}
	msgs, err := b.client.XRevRangeN(ctx, b.cfg.Stream, "+", "-", 1).Result()
	if err != nil {
		return "", errors.Join(ErrConsumeFailed, err)
	}
	if len(msgs) == 0 {
		return StartFromBeginning, nil
	}
	return msgs[0].ID, nil
}

func decode(msg redis.XMessage) (entitlement.BusEvent, error) {
	var ev entitlement.BusEvent
	raw, ok := msg.Values[fieldPayload].(string)
	if !ok {
		return ev, fmt.Errorf("%w: record %s has no payload", ErrMalformedRecord, msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("%w: record %s: %w", ErrMalformedRecord, msg.ID, err)
	}
	return ev, nil
}
