package timeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/timeline"
)

const serviceCatalog = `
name: timeline
versions:
  - effective_date: 2024-01-01T00:00:00Z
    rules:
      cancel_policy: END_OF_TERM
      change_policy: END_OF_TERM
      plan_alignment: START_OF_SUBSCRIPTION
    products:
      - name: Lite
        category: BASE
      - name: Pro
        category: BASE
      - name: Plus
        category: BASE
    plans:
      - name: lite-monthly
        product: Lite
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
      - name: pro-monthly
        product: Pro
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
      - name: plus-monthly
        product: Plus
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
    price_lists:
      - name: DEFAULT
        plans: [lite-monthly, pro-monthly, plus-monthly]
`

type nopScheduler struct{}

func (nopScheduler) ScheduleAt(context.Context, time.Time, entitlement.NotificationKey) error {
	return nil
}

type capturedBus struct {
	mu     sync.Mutex
	events []entitlement.BusEvent
}

func (b *capturedBus) Publish(_ context.Context, ev entitlement.BusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// drain feeds everything published so far into p.
func (b *capturedBus) drain(t *testing.T, p *timeline.Projector) {
	t.Helper()
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()
	for _, ev := range events {
		require.NoError(t, p.Apply(context.Background(), ev))
	}
}

func newService(t *testing.T) (entitlement.Service, *capturedBus, *entitlement.Subscription) {
	t.Helper()
	cat, err := catalog.Parse([]byte(serviceCatalog))
	require.NoError(t, err)

	bus := &capturedBus{}
	svc := entitlement.NewService(entitlement.NewMemoryStore(), cat, nopScheduler{}, bus,
		entitlement.WithClock(entitlement.ClockFunc(func() time.Time { return t0 })),
		entitlement.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx := context.Background()
	b, err := svc.CreateBundle(ctx, entitlement.CreateBundleRequest{AccountID: uuid.New(), ExternalKey: "acme"})
	require.NoError(t, err)
	sub, err := svc.Create(ctx, entitlement.CreateRequest{BundleID: b.ID, PlanName: "lite-monthly"})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateChargedThroughDate(ctx, sub.ID, t0.AddDate(0, 0, 10)))
	return svc, bus, sub
}

func TestProjector_FollowsServiceSupersedes(t *testing.T) {
	t.Parallel()

	t.Run("cancel then uncancel", func(t *testing.T) {
		t.Parallel()
		svc, bus, sub := newService(t)
		p := timeline.New(svc, quiet())
		ctx := context.Background()

		_, err := svc.Cancel(ctx, entitlement.CancelRequest{SubscriptionID: sub.ID})
		require.NoError(t, err)
		bus.drain(t, p)
		require.Len(t, p.Transitions(sub.ID), 2)

		_, err = svc.Uncancel(ctx, sub.ID)
		require.NoError(t, err)
		bus.drain(t, p)

		want, err := svc.Subscription(ctx, sub.ID)
		require.NoError(t, err)
		got := p.Transitions(sub.ID)
		assert.Equal(t, entitlement.BusinessTransitions(want), got)
		last := got[len(got)-1]
		require.NotNil(t, last.Next)
		assert.Equal(t, entitlement.StateActive, last.Next.State)
	})

	t.Run("change replaces pending change", func(t *testing.T) {
		t.Parallel()
		svc, bus, sub := newService(t)
		p := timeline.New(svc, quiet())
		ctx := context.Background()

		_, err := svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "pro-monthly"})
		require.NoError(t, err)
		bus.drain(t, p)

		_, err = svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "plus-monthly"})
		require.NoError(t, err)
		bus.drain(t, p)

		want, err := svc.Subscription(ctx, sub.ID)
		require.NoError(t, err)
		got := p.Transitions(sub.ID)
		assert.Equal(t, entitlement.BusinessTransitions(want), got)
		require.Len(t, got, 2)
		assert.Equal(t, "plus-monthly", got[1].Next.PlanName)
	})
}
