package entitlement

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// repairContext carries the staged work of one repair request. It is built
// and validated before anything is written and passed explicitly through
// the apply steps.
type repairContext struct {
	bundle *Bundle
	now    time.Time
	items  []*repairItem
}

type repairItem struct {
	row     *Subscription // persisted row at FromVersion
	target  int64
	kept    []Event
	added   []*Event
	result  *Subscription
	applied bool // row is already at target, nothing to write
}

// Repair replaces the current branch of each listed subscription with the
// kept events plus the new ones, one version up. The old branch stays in
// the log untouched. A subscription already at FromVersion+1 is skipped, so
// repeating a repair is a no-op.
func (s *service) Repair(ctx context.Context, req RepairRequest) (_ *RepairResult, err error) {
	ctx, end := s.begin(ctx, OpRepair,
		attribute.String("bundle.id", req.BundleID.String()),
		attribute.Bool("dry_run", req.DryRun))
	defer func() { end(&err) }()

	if len(req.Subscriptions) == 0 {
		return nil, fmt.Errorf("%w: no subscriptions", ErrInvalidRepair)
	}

	run := s.store.InTx
	if req.DryRun {
		run = s.store.InReadTx
	}

	var result *RepairResult
	err = run(ctx, func(ctx context.Context, tx Tx) error {
		rc, err := s.stageRepair(ctx, tx, req)
		if err != nil {
			return err
		}

		result = &RepairResult{Subscriptions: make([]*Subscription, 0, len(rc.items))}
		if req.DryRun {
			for _, it := range rc.items {
				result.Subscriptions = append(result.Subscriptions, it.result)
			}
			return nil
		}

		for _, it := range rc.items {
			if !it.applied {
				sub, err := s.applyRepair(ctx, tx, rc, it)
				if err != nil {
					return err
				}
				it.result = sub
				result.Applied = true
			}
			result.Subscriptions = append(result.Subscriptions, it.result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// stageRepair loads and validates every subscription of the request and
// replays the new branches in memory.
func (s *service) stageRepair(ctx context.Context, tx Tx, req RepairRequest) (*repairContext, error) {
	bundle, err := s.loadBundle(ctx, tx, req.BundleID)
	if err != nil {
		return nil, err
	}
	rc := &repairContext{bundle: bundle, now: s.clock.Now()}

	seen := make(map[uuid.UUID]struct{}, len(req.Subscriptions))
	for _, sr := range req.Subscriptions {
		if _, dup := seen[sr.SubscriptionID]; dup {
			return nil, fmt.Errorf("%w: subscription %s listed twice", ErrInvalidRepair, sr.SubscriptionID)
		}
		seen[sr.SubscriptionID] = struct{}{}

		it, err := s.stageSubscription(ctx, tx, rc, sr)
		if err != nil {
			return nil, err
		}
		rc.items = append(rc.items, it)
	}
	return rc, nil
}

func (s *service) stageSubscription(ctx context.Context, tx Tx, rc *repairContext, sr SubscriptionRepair) (*repairItem, error) {
	row, err := tx.SubscriptionByID(ctx, sr.SubscriptionID)
	if err != nil {
		return nil, s.notFound(ctx, err, "subscription", sr.SubscriptionID)
	}
	if row.BundleID != rc.bundle.ID {
		return nil, fmt.Errorf("%w: subscription %s is not in bundle %s", ErrInvalidRepair, row.ID, rc.bundle.ID)
	}

	target := sr.FromVersion + 1
	switch row.ActiveVersion {
	case target:
		s.logger.InfoContext(ctx, "repair already applied, skipping",
			logger.SubscriptionID(row.ID),
			logger.ActiveVersion(row.ActiveVersion))
		sub, err := s.replayRow(ctx, tx, row)
		if err != nil {
			return nil, err
		}
		return &repairItem{row: row, target: target, result: sub, applied: true}, nil
	case sr.FromVersion:
	default:
		return nil, fmt.Errorf("%w: subscription %s is at version %d, repair expects %d",
			ErrStaleRepair, row.ID, row.ActiveVersion, sr.FromVersion)
	}

	events, err := tx.EventsForSubscription(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	branch := activeBranch(events, sr.FromVersion)
	var maxOrdering int64
	for _, ev := range events {
		maxOrdering = max(maxOrdering, ev.TotalOrdering)
	}

	it := &repairItem{row: row, target: target}
	var lastKept time.Time
	for _, id := range sr.KeptEventIDs {
		i := slices.IndexFunc(branch, func(ev Event) bool { return ev.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: event %s is not part of version %d of subscription %s",
				ErrInvalidRepair, id, sr.FromVersion, row.ID)
		}
		it.kept = append(it.kept, branch[i])
		if branch[i].EffectiveDate.After(lastKept) {
			lastKept = branch[i].EffectiveDate
		}
	}

	next := row.row()
	next.ActiveVersion = target
	for _, in := range sr.NewEvents {
		if in.EffectiveDate.Before(lastKept) {
			return nil, fmt.Errorf("%w: new event at %s precedes the last kept event at %s",
				ErrInvalidRepair, in.EffectiveDate.Format(time.RFC3339), lastKept.Format(time.RFC3339))
		}
		if in.PlanName != "" {
			if _, err := s.planFor(in.PlanName, in.EffectiveDate, row.StartDate); err != nil {
				return nil, s.catalogErr(ctx, err, in.PlanName)
			}
		}
		it.added = append(it.added, in.event(&next, rc.now))
	}

	staged := make([]Event, 0, len(it.kept)+len(it.added))
	for _, ev := range it.kept {
		ev.ActiveVersion = target
		staged = append(staged, ev)
	}
	for i, ev := range it.added {
		e := *ev
		e.TotalOrdering = maxOrdering + int64(i) + 1
		staged = append(staged, e)
	}

	sub, err := Replay(&next, staged)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: repaired branch of subscription %s is empty", ErrInvalidRepair, row.ID)
	}
	it.result = sub
	return it, nil
}

// applyRepair writes one staged subscription. Kept events move to the new
// version and leave an archival copy on the old one, so both branches stay
// replayable.
func (s *service) applyRepair(ctx context.Context, tx Tx, rc *repairContext, it *repairItem) (*Subscription, error) {
	for _, kept := range it.kept {
		archived := kept
		archived.ID = uuid.New()
		if err := tx.Append(ctx, &archived); err != nil {
			return nil, fmt.Errorf("archive event %s: %w", kept.ID, err)
		}
		if err := tx.UpdateVersion(ctx, kept.ID, it.target); err != nil {
			return nil, fmt.Errorf("move event %s to version %d: %w", kept.ID, it.target, err)
		}
	}

	if err := tx.UpdateForRepair(ctx, it.row.ID, it.target); err != nil {
		return nil, fmt.Errorf("bump subscription version: %w", err)
	}

	for _, ev := range it.added {
		if err := tx.Append(ctx, ev); err != nil {
			return nil, fmt.Errorf("append %s event: %w", ev.Kind(), err)
		}
		if ev.IsFuture(rc.now) {
			if err := s.schedule(ctx, ev); err != nil {
				return nil, err
			}
		}
	}

	row := it.row.row()
	row.ActiveVersion = it.target
	sub, err := s.replayRow(ctx, tx, &row)
	if err != nil {
		return nil, err
	}

	events := sub.Events()
	last := events[len(events)-1]
	s.publish(ctx, BusEventRepair, rc.bundle, &last)

	s.logger.InfoContext(ctx, "subscription repaired",
		logger.SubscriptionID(sub.ID),
		logger.BundleID(rc.bundle.ID),
		logger.ActiveVersion(it.target))
	return sub, nil
}
