package bus

import (
	"context"

	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

// Handler processes one bus event. Returning an error stops Consume.
type Handler func(ctx context.Context, ev entitlement.BusEvent) error

var (
	_ entitlement.Bus = (*MemoryBus)(nil)
	_ entitlement.Bus = (*RedisBus)(nil)
)
