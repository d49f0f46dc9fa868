package entitlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

var t0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return t0.AddDate(0, 0, n)
}

const testCatalog = `
name: test
versions:
  - effective_date: 2024-01-01T00:00:00Z
    rules:
      cancel_policy: IMMEDIATE
      change_policy: IMMEDIATE
      plan_alignment: START_OF_SUBSCRIPTION
    products:
      - name: Basic
        category: BASE
        available: [Analytics, Storage]
      - name: Pro
        category: BASE
        available: [Storage]
        included: [Analytics]
      - name: Lite
        category: BASE
      - name: Analytics
        category: ADD_ON
      - name: Storage
        category: ADD_ON
    plans:
      - name: basic-monthly
        product: Basic
        billing_period: MONTHLY
        phases:
          - type: TRIAL
            duration: { unit: DAYS, number: 30 }
          - type: EVERGREEN
      - name: starter-monthly
        product: Basic
        billing_period: MONTHLY
        phases:
          - type: TRIAL
            duration: { unit: DAYS, number: 14 }
          - type: DISCOUNT
            duration: { unit: MONTHS, number: 1 }
          - type: EVERGREEN
      - name: pro-monthly
        product: Pro
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
      - name: lite-monthly
        product: Lite
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
      - name: analytics-monthly
        product: Analytics
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
      - name: storage-monthly
        product: Storage
        billing_period: MONTHLY
        phases:
          - type: EVERGREEN
    price_lists:
      - name: DEFAULT
        plans: [basic-monthly, starter-monthly, pro-monthly, lite-monthly, analytics-monthly, storage-monthly]
`

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	return cat
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type scheduledKey struct {
	At  time.Time
	Key entitlement.NotificationKey
}

type recordingScheduler struct {
	mu   sync.Mutex
	keys []scheduledKey
	err  error
}

func (s *recordingScheduler) ScheduleAt(_ context.Context, at time.Time, key entitlement.NotificationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, scheduledKey{At: at, Key: key})
	return nil
}

func (s *recordingScheduler) scheduled() []scheduledKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.keys)
}

// due removes and returns the keys due at or before at, earliest first.
func (s *recordingScheduler) due(at time.Time) []scheduledKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fired, rest []scheduledKey
	for _, k := range s.keys {
		if k.At.After(at) {
			rest = append(rest, k)
		} else {
			fired = append(fired, k)
		}
	}
	s.keys = rest
	slices.SortStableFunc(fired, func(a, b scheduledKey) int { return a.At.Compare(b.At) })
	return fired
}

type recordingBus struct {
	mu     sync.Mutex
	events []entitlement.BusEvent
	err    error
}

func (b *recordingBus) Publish(_ context.Context, ev entitlement.BusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) published() []entitlement.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

func (b *recordingBus) ofKind(kind entitlement.BusEventKind) []entitlement.BusEvent {
	var out []entitlement.BusEvent
	for _, ev := range b.published() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

var errBusDown = errors.New("bus down")

type harness struct {
	svc   entitlement.Service
	store *entitlement.MemoryStore
	clock *fakeClock
	sched *recordingScheduler
	bus   *recordingBus
}

func newHarness(t *testing.T, opts ...entitlement.ServiceOption) *harness {
	t.Helper()
	h := &harness{
		store: entitlement.NewMemoryStore(),
		clock: &fakeClock{now: t0},
		sched: &recordingScheduler{},
		bus:   &recordingBus{},
	}
	opts = append([]entitlement.ServiceOption{
		entitlement.WithClock(h.clock),
		entitlement.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	h.svc = entitlement.NewService(h.store, loadCatalog(t), h.sched, h.bus, opts...)
	return h
}

func (h *harness) bundle(t *testing.T, account uuid.UUID, key string) *entitlement.Bundle {
	t.Helper()
	b, err := h.svc.CreateBundle(context.Background(), entitlement.CreateBundleRequest{AccountID: account, ExternalKey: key})
	require.NoError(t, err)
	return b
}

func (h *harness) create(t *testing.T, bundleID uuid.UUID, plan string) *entitlement.Subscription {
	t.Helper()
	sub, err := h.svc.Create(context.Background(), entitlement.CreateRequest{BundleID: bundleID, PlanName: plan})
	require.NoError(t, err)
	return sub
}

// advance moves the clock to at and fires every notification due by then.
func (h *harness) advance(t *testing.T, at time.Time) {
	t.Helper()
	h.clock.Set(at)
	for {
		due := h.sched.due(at)
		if len(due) == 0 {
			return
		}
		for _, k := range due {
			require.NoError(t, h.svc.ProcessNotification(context.Background(), k.Key))
		}
	}
}

func (h *harness) subscription(t *testing.T, id uuid.UUID) *entitlement.Subscription {
	t.Helper()
	sub, err := h.svc.Subscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func countKind(events []entitlement.Event, kind entitlement.Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Is(kind) {
			n++
		}
	}
	return n
}
