package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Source loads the current replayed subscription. entitlement.Service
// satisfies it.
type Source interface {
	Subscription(ctx context.Context, subscriptionID uuid.UUID) (*entitlement.Subscription, error)
}

// Observer is called with the full timeline of a subscription whenever it changes.
type Observer func(ctx context.Context, subscriptionID uuid.UUID, transitions []entitlement.BusinessSubscriptionTransition)

// Option configures a Projector.
type Option func(*Projector)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers fn for timeline changes.
func WithObserver(fn Observer) Option {
	return func(p *Projector) {
		if fn != nil {
			p.observers = append(p.observers, fn)
		}
	}
}

// Projector builds BusinessSubscriptionTransitions from bus events.
// It is safe for concurrent use.
type Projector struct {
	source    Source
	logger    *slog.Logger
	observers []Observer

	mu   sync.Mutex
	subs map[uuid.UUID]*subscriptionTimeline
}

type subscriptionTimeline struct {
	row         entitlement.Subscription
	events      []entitlement.Event
	transitions []entitlement.BusinessSubscriptionTransition
}

// New creates a projector reading subscription metadata from source.
// Panics if source is nil.
func New(source Source, opts ...Option) *Projector {
	if source == nil {
		panic("timeline: Source is required")
	}
	p := &Projector{
		source: source,
		logger: slog.Default(),
		subs:   make(map[uuid.UUID]*subscriptionTimeline),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply folds one bus event into its subscription's timeline. Its
// signature matches bus.Handler.
//
// Every delivery is checked against the Source: events the Source no longer
// reports on the active branch were superseded and leave the timeline, and a
// repair or a newer version replaces the timeline with the Source's branch.
// A subscription the Source does not know is logged and skipped, since a
// publish can outlive a rolled back write.
func (p *Projector) Apply(ctx context.Context, ev entitlement.BusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.logger.With(logger.SubscriptionID(ev.SubscriptionID), logger.EventID(ev.EventID))

	tl, known := p.subs[ev.SubscriptionID]
	if known {
		if ev.ActiveVersion < tl.row.ActiveVersion {
			log.DebugContext(ctx, "dropping event from an older branch", logger.ActiveVersion(ev.ActiveVersion))
			return nil
		}
		if ev.Kind != entitlement.BusEventRepair && slices.ContainsFunc(tl.events, sameID(ev.EventID)) {
			return nil
		}
	}

	sub, err := p.source.Subscription(ctx, ev.SubscriptionID)
	switch {
	case errors.Is(err, entitlement.ErrSubscriptionNotFound):
		log.WarnContext(ctx, "subscription not found, bus event skipped", logger.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("load subscription %s: %w", ev.SubscriptionID, err)
	}

	switch {
	case ev.ActiveVersion < sub.ActiveVersion:
		log.DebugContext(ctx, "dropping event from an older branch", logger.ActiveVersion(ev.ActiveVersion))
		return nil
	case ev.ActiveVersion > sub.ActiveVersion:
		log.WarnContext(ctx, "bus event is ahead of the source, skipped",
			logger.ActiveVersion(ev.ActiveVersion))
		return nil
	case !known:
		tl = &subscriptionTimeline{row: rowOf(sub)}
	case ev.Kind == entitlement.BusEventRepair || sub.ActiveVersion > tl.row.ActiveVersion:
		return p.rebuild(ctx, log, sub)
	}

	live := sub.Events()
	next := &subscriptionTimeline{row: tl.row, transitions: tl.transitions}
	next.events = slices.DeleteFunc(slices.Clone(tl.events), func(e entitlement.Event) bool {
		return !slices.ContainsFunc(live, sameID(e.ID))
	})
	dropped := len(tl.events) - len(next.events)
	if dropped > 0 {
		log.InfoContext(ctx, "superseded events removed from timeline", slog.Int("removed", dropped))
	}

	// An event the source does not list yet is kept when it is newer than
	// everything the source has written.
	if slices.ContainsFunc(live, sameID(ev.EventID)) || ev.TotalOrdering > maxOrdering(live) {
		next.events = append(next.events, eventOf(ev))
	} else {
		log.DebugContext(ctx, "dropping superseded event")
		if dropped == 0 {
			return nil
		}
	}

	changed, err := next.refold()
	if err != nil {
		return err
	}
	p.subs[ev.SubscriptionID] = next
	if changed > 1 {
		log.InfoContext(ctx, "late event patched timeline", slog.Int("patched", changed-1))
	}
	p.notify(ctx, ev.SubscriptionID, next)
	return nil
}

// Transitions returns the projected timeline of a subscription.
func (p *Projector) Transitions(subscriptionID uuid.UUID) []entitlement.BusinessSubscriptionTransition {
	p.mu.Lock()
	defer p.mu.Unlock()

	tl, ok := p.subs[subscriptionID]
	if !ok {
		return nil
	}
	return slices.Clone(tl.transitions)
}

// rebuild replaces the timeline with the current branch of sub.
func (p *Projector) rebuild(ctx context.Context, log *slog.Logger, sub *entitlement.Subscription) error {
	tl := &subscriptionTimeline{row: rowOf(sub), events: sub.Events()}
	if _, err := tl.refold(); err != nil {
		return err
	}
	p.subs[sub.ID] = tl

	log.InfoContext(ctx, "timeline rebuilt", logger.ActiveVersion(sub.ActiveVersion))
	p.notify(ctx, sub.ID, tl)
	return nil
}

// refold replays the events and returns how many transitions differ from
// the previous projection, counting from the first change.
func (tl *subscriptionTimeline) refold() (int, error) {
	replayed, err := entitlement.Replay(&tl.row, tl.events)
	if err != nil {
		return 0, fmt.Errorf("replay subscription %s: %w", tl.row.ID, err)
	}

	var next []entitlement.BusinessSubscriptionTransition
	if replayed != nil {
		next = entitlement.BusinessTransitions(replayed)
	}

	first := len(next)
	for i := range next {
		if i >= len(tl.transitions) || !sameTransition(tl.transitions[i], next[i]) {
			first = i
			break
		}
	}
	tl.transitions = next
	return len(next) - first, nil
}

func (p *Projector) notify(ctx context.Context, subscriptionID uuid.UUID, tl *subscriptionTimeline) {
	for _, fn := range p.observers {
		fn(ctx, subscriptionID, slices.Clone(tl.transitions))
	}
}

func sameID(id uuid.UUID) func(entitlement.Event) bool {
	return func(e entitlement.Event) bool { return e.ID == id }
}

func maxOrdering(events []entitlement.Event) int64 {
	var m int64
	for _, e := range events {
		m = max(m, e.TotalOrdering)
	}
	return m
}

func sameTransition(a, b entitlement.BusinessSubscriptionTransition) bool {
	return a.EventID == b.EventID && snapshotEqual(a.Prev, b.Prev) && snapshotEqual(a.Next, b.Next)
}

func snapshotEqual(a, b *entitlement.Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.State == b.State && a.PlanName == b.PlanName &&
		a.PhaseName == b.PhaseName && a.PriceListName == b.PriceListName
}

func rowOf(sub *entitlement.Subscription) entitlement.Subscription {
	return entitlement.Subscription{
		ID:            sub.ID,
		BundleID:      sub.BundleID,
		Category:      sub.Category,
		StartDate:     sub.StartDate,
		ActiveVersion: sub.ActiveVersion,
	}
}

func eventOf(ev entitlement.BusEvent) entitlement.Event {
	return entitlement.Event{
		ID:             ev.EventID,
		SubscriptionID: ev.SubscriptionID,
		Type:           ev.Type,
		UserType:       ev.UserType,
		EffectiveDate:  ev.EffectiveDate,
		RequestedDate:  ev.RequestedDate,
		PlanName:       ev.PlanName,
		PhaseName:      ev.PhaseName,
		PriceListName:  ev.PriceListName,
		ActiveVersion:  ev.ActiveVersion,
		Active:         true,
		TotalOrdering:  ev.TotalOrdering,
	}
}
