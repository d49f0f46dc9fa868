package entitlement_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

func TestService_ChangePlan(t *testing.T) {
	t.Parallel()

	t.Run("immediate change keeps phase alignment", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.bundle(t, uuid.New(), "acme")
		sub := h.create(t, b.ID, "basic-monthly")

		h.clock.Set(day(5))
		got, err := h.svc.ChangePlan(context.Background(), entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "starter-monthly"})
		require.NoError(t, err)
		assert.Equal(t, "starter-monthly", got.CurrentPlan(day(5)))
		assert.Equal(t, "starter-monthly-trial", got.CurrentPhase(day(5)))
		assert.Equal(t, "basic-monthly", got.CurrentPlan(day(4)))

		pending := got.PendingEvents(day(5))
		require.Len(t, pending, 1, "the basic trial phase is superseded")
		assert.Equal(t, "starter-monthly-discount", pending[0].PhaseName)
		assert.Equal(t, day(14), pending[0].EffectiveDate)
	})

	t.Run("category must match", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.bundle(t, uuid.New(), "acme")
		sub := h.create(t, b.ID, "basic-monthly")

		_, err := h.svc.ChangePlan(context.Background(), entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "analytics-monthly"})
		assert.ErrorIs(t, err, entitlement.ErrInvalidCategory)
	})

	t.Run("not allowed with a pending cancel", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		b := h.bundle(t, uuid.New(), "acme")
		sub := h.create(t, b.ID, "pro-monthly")
		require.NoError(t, h.svc.UpdateChargedThroughDate(ctx, sub.ID, day(10)))
		_, err := h.svc.Cancel(ctx, entitlement.CancelRequest{SubscriptionID: sub.ID, Policy: catalog.PolicyEndOfTerm})
		require.NoError(t, err)

		_, err = h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "basic-monthly"})
		var te *entitlement.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, entitlement.LifecyclePendingCancel, te.State)
		assert.Equal(t, entitlement.OpChangePlan, te.Operation)
	})

	t.Run("immediate base change cancels ineligible add-ons", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		b := h.bundle(t, uuid.New(), "acme")
		base := h.create(t, b.ID, "basic-monthly")
		analytics := h.create(t, b.ID, "analytics-monthly")
		storage := h.create(t, b.ID, "storage-monthly")

		_, err := h.svc.ChangePlan(context.Background(), entitlement.ChangePlanRequest{SubscriptionID: base.ID, PlanName: "pro-monthly"})
		require.NoError(t, err)

		assert.Equal(t, entitlement.StateCancelled, h.subscription(t, analytics.ID).State(t0), "included in pro")
		assert.Equal(t, entitlement.StateActive, h.subscription(t, storage.ID).State(t0), "still available under pro")
	})
}

func TestService_AddonInference(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.bundle(t, uuid.New(), "acme")
	base := h.create(t, b.ID, "basic-monthly")
	addon := h.create(t, b.ID, "analytics-monthly")
	require.NoError(t, h.svc.UpdateChargedThroughDate(ctx, base.ID, day(5)))

	_, err := h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{
		SubscriptionID: base.ID,
		PlanName:       "lite-monthly",
		Policy:         catalog.PolicyEndOfTerm,
	})
	require.NoError(t, err)

	subs, err := h.svc.Assemble(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assembled := subs[1]
	require.Equal(t, addon.ID, assembled.ID)

	assert.Equal(t, entitlement.StateActive, assembled.State(t0))
	assert.Equal(t, entitlement.StateCancelled, assembled.State(day(5)))
	assert.Equal(t, entitlement.StateActive, h.subscription(t, addon.ID).State(day(5)), "inference is not persisted")

	h.advance(t, day(5))
	persisted := h.subscription(t, addon.ID)
	assert.Equal(t, entitlement.StateCancelled, persisted.State(day(5)))
	assert.Equal(t, 1, countKind(persisted.Events(), entitlement.KindCancel))
}

func TestService_ChangePlan_ReinsertsMigrateBilling(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	account := uuid.New()

	bundles, err := h.svc.Migrate(ctx, entitlement.MigrateRequest{
		AccountID: account,
		Bundles: []entitlement.MigrationBundle{{
			ExternalKey: "legacy",
			StartDate:   t0,
			Subscriptions: []entitlement.MigrationSubscription{{
				Category:  catalog.CategoryBase,
				StartDate: t0,
				Events: []entitlement.EventInput{
					{Type: entitlement.EventTypeAPIUser, UserType: entitlement.UserTypeMigrateEntitlement, EffectiveDate: t0, PlanName: "basic-monthly", PhaseName: "basic-monthly-trial", PriceListName: entitlement.DefaultPriceList},
					{Type: entitlement.EventTypeAPIUser, UserType: entitlement.UserTypeMigrateBilling, EffectiveDate: day(20), PlanName: "basic-monthly", PhaseName: "basic-monthly-trial", PriceListName: entitlement.DefaultPriceList},
					{Type: entitlement.EventTypePhase, EffectiveDate: day(30), PhaseName: "basic-monthly-evergreen"},
				},
			}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	base, err := h.svc.BaseSubscription(ctx, bundles[0].ID)
	require.NoError(t, err)
	original := pendingOf(t, h, base.ID, entitlement.KindMigrateBilling)

	h.clock.Set(day(1))
	_, err = h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: base.ID, PlanName: "pro-monthly"})
	require.NoError(t, err)

	moved := pendingOf(t, h, base.ID, entitlement.KindMigrateBilling)
	assert.NotEqual(t, original.ID, moved.ID)
	assert.Equal(t, "pro-monthly", moved.PlanName)
	assert.Equal(t, "pro-monthly-evergreen", moved.PhaseName)
	assert.Equal(t, original.EffectiveDate, moved.EffectiveDate)
	assert.Equal(t, original.TotalOrdering, moved.TotalOrdering)

	history, err := h.svc.EventsForSubscription(ctx, base.ID)
	require.NoError(t, err)
	for _, ev := range history {
		if ev.ID == original.ID {
			assert.False(t, ev.Active)
		}
	}

	got := h.subscription(t, base.ID)
	assert.Equal(t, "pro-monthly", got.CurrentPlan(day(25)))
}

func pendingOf(t *testing.T, h *harness, subID uuid.UUID, kind entitlement.Kind) entitlement.Event {
	t.Helper()
	pending, err := h.svc.PendingEventsForSubscription(context.Background(), subID)
	require.NoError(t, err)
	for _, ev := range pending {
		if ev.Is(kind) {
			return ev
		}
	}
	require.Failf(t, "no pending event", "kind %s", kind)
	return entitlement.Event{}
}

func TestService_ChangePlan_RequestedDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	b := h.bundle(t, uuid.New(), "acme")
	sub := h.create(t, b.ID, "lite-monthly")

	h.clock.Set(day(20))
	_, err := h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "pro-monthly"})
	require.NoError(t, err)

	h.clock.Set(day(40))
	_, err = h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "basic-monthly", RequestedDate: day(10)})
	assert.ErrorIs(t, err, entitlement.ErrInvalidRequestedDate)

	_, err = h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "basic-monthly", RequestedDate: day(41)})
	assert.ErrorIs(t, err, entitlement.ErrInvalidRequestedDate)

	got, err := h.svc.ChangePlan(ctx, entitlement.ChangePlanRequest{SubscriptionID: sub.ID, PlanName: "basic-monthly", RequestedDate: day(25)})
	require.NoError(t, err)
	assert.Equal(t, "pro-monthly", got.CurrentPlan(day(24)))
	assert.Equal(t, "basic-monthly", got.CurrentPlan(day(25)))

	trs := got.Transitions()
	for i := 1; i < len(trs); i++ {
		assert.False(t, trs[i].EffectiveDate.Before(trs[i-1].EffectiveDate), "transitions stay in date order")
	}
}
