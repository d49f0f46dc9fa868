// Package pgstore implements entitlement.Store on PostgreSQL with pgx.
//
// Transactions travel in the context via pg.WithTx, so a queue.PostgresStorage
// built on the same pool schedules notifications inside the transaction that
// wrote the events. The schema lives in db/migrations.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// DB is the pool surface the store needs. *pgxpool.Pool satisfies it.
type DB interface {
	pg.Querier
	pg.TxBeginner
}

// Store implements entitlement.Store.
type Store struct {
	db DB
}

var _ entitlement.Store = (*Store)(nil)

// New creates a Store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

// InTx implements entitlement.Store.
func (s *Store) InTx(ctx context.Context, fn entitlement.TxFunc) error {
	return pg.WithTx(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txn{q: tx})
	})
}

// InReadTx implements entitlement.Store.
func (s *Store) InReadTx(ctx context.Context, fn entitlement.TxFunc) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pg.WithTx(ctx, s.db, opts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txn{q: tx, readOnly: true})
	})
}

type txn struct {
	q        pg.Querier
	readOnly bool
}

func (t *txn) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if t.readOnly {
		return 0, entitlement.ErrReadOnlyTx
	}
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const bundleColumns = `id, external_key, account_id, start_date`

func (t *txn) CreateBundle(ctx context.Context, b *entitlement.Bundle) error {
	_, err := t.exec(ctx, `
		INSERT INTO bundles (id, external_key, account_id, start_date)
		VALUES ($1, $2, $3, $4)`,
		b.ID, b.ExternalKey, b.AccountID, b.StartDate)
	if pg.IsDuplicateKeyError(err) {
		return entitlement.ErrBundleExists
	}
	if err != nil {
		return fmt.Errorf("insert bundle: %w", err)
	}
	return nil
}

func (t *txn) BundleByID(ctx context.Context, id uuid.UUID) (*entitlement.Bundle, error) {
	row := t.q.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id)
	return scanBundle(row)
}

func (t *txn) BundleByKey(ctx context.Context, accountID uuid.UUID, externalKey string) (*entitlement.Bundle, error) {
	row := t.q.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE account_id = $1 AND external_key = $2`,
		accountID, externalKey)
	return scanBundle(row)
}

func (t *txn) BundlesForAccount(ctx context.Context, accountID uuid.UUID) ([]*entitlement.Bundle, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+bundleColumns+` FROM bundles
		WHERE account_id = $1
		ORDER BY start_date, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query bundles: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBundle(row pgx.Row) (*entitlement.Bundle, error) {
	var b entitlement.Bundle
	err := row.Scan(&b.ID, &b.ExternalKey, &b.AccountID, &b.StartDate)
	if pg.IsNotFoundError(err) {
		return nil, entitlement.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	b.StartDate = b.StartDate.UTC()
	return &b, nil
}

const subscriptionColumns = `id, bundle_id, category, start_date, bundle_start_date,
	charged_through_date, paid_through_date, active_version`

func (t *txn) CreateSubscription(ctx context.Context, sub *entitlement.Subscription) error {
	_, err := t.exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.BundleID, string(sub.Category), sub.StartDate, sub.BundleStartDate,
		sub.ChargedThroughDate, sub.PaidThroughDate, sub.ActiveVersion)
	if pg.IsForeignKeyViolationError(err) {
		return entitlement.ErrBundleNotFound
	}
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (t *txn) SubscriptionByID(ctx context.Context, id uuid.UUID) (*entitlement.Subscription, error) {
	row := t.q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (t *txn) SubscriptionsForBundle(ctx context.Context, bundleID uuid.UUID) ([]*entitlement.Subscription, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE bundle_id = $1
		ORDER BY start_date, id`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*entitlement.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (t *txn) UpdateChargedThrough(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE subscriptions SET charged_through_date = $2, updated_at = now() WHERE id = $1`,
		subscriptionID, at)
	return affected(n, err, entitlement.ErrSubscriptionNotFound, "update charged through date")
}

func (t *txn) UpdateForRepair(ctx context.Context, subscriptionID uuid.UUID, activeVersion int64) error {
	n, err := t.exec(ctx, `UPDATE subscriptions SET active_version = $2, updated_at = now() WHERE id = $1`,
		subscriptionID, activeVersion)
	return affected(n, err, entitlement.ErrSubscriptionNotFound, "update active version")
}

func scanSubscription(row pgx.Row) (*entitlement.Subscription, error) {
	var (
		sub      entitlement.Subscription
		category string
	)
	err := row.Scan(&sub.ID, &sub.BundleID, &category, &sub.StartDate, &sub.BundleStartDate,
		&sub.ChargedThroughDate, &sub.PaidThroughDate, &sub.ActiveVersion)
	if pg.IsNotFoundError(err) {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Category = catalog.Category(category)
	sub.StartDate = sub.StartDate.UTC()
	sub.BundleStartDate = sub.BundleStartDate.UTC()
	sub.ChargedThroughDate = utcPtr(sub.ChargedThroughDate)
	sub.PaidThroughDate = utcPtr(sub.PaidThroughDate)
	return &sub, nil
}

const eventColumns = `id, subscription_id, event_type, user_type, effective_date, requested_date,
	processed_date, plan_name, phase_name, price_list_name, active_version, is_active, total_ordering`

// Append takes the next value of the ordering sequence unless the event
// carries its own ordering.
func (t *txn) Append(ctx context.Context, ev *entitlement.Event) error {
	if t.readOnly {
		return entitlement.ErrReadOnlyTx
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO entitlement_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			COALESCE(NULLIF($13::bigint, 0), nextval('entitlement_events_total_ordering_seq')))
		RETURNING total_ordering`,
		ev.ID, ev.SubscriptionID, string(ev.Type), nullString(string(ev.UserType)),
		ev.EffectiveDate, ev.RequestedDate, ev.ProcessedDate,
		nullString(ev.PlanName), nullString(ev.PhaseName), nullString(ev.PriceListName),
		ev.ActiveVersion, ev.Active, ev.TotalOrdering,
	).Scan(&ev.TotalOrdering)
	switch {
	case pg.IsForeignKeyViolationError(err):
		return entitlement.ErrSubscriptionNotFound
	case err != nil:
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *txn) Unactivate(ctx context.Context, eventID uuid.UUID) error {
	n, err := t.exec(ctx, `UPDATE entitlement_events SET is_active = FALSE, updated_at = now() WHERE id = $1`, eventID)
	return affected(n, err, entitlement.ErrEventNotFound, "unactivate event")
}

func (t *txn) UpdateVersion(ctx context.Context, eventID uuid.UUID, activeVersion int64) error {
	n, err := t.exec(ctx, `UPDATE entitlement_events SET active_version = $2, updated_at = now() WHERE id = $1`,
		eventID, activeVersion)
	return affected(n, err, entitlement.ErrEventNotFound, "update event version")
}

func (t *txn) EventByID(ctx context.Context, eventID uuid.UUID) (*entitlement.Event, error) {
	row := t.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM entitlement_events WHERE id = $1`, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (t *txn) EventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]entitlement.Event, error) {
	return t.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM entitlement_events
		WHERE subscription_id = $1
		ORDER BY total_ordering, effective_date, id`, subscriptionID)
}

func (t *txn) FutureActiveEvents(ctx context.Context, subscriptionID uuid.UUID, asOf time.Time) ([]entitlement.Event, error) {
	return t.queryEvents(ctx, `
		SELECT `+prefixed("e", eventColumns)+`
		FROM entitlement_events e
		JOIN subscriptions s ON s.id = e.subscription_id
		WHERE e.subscription_id = $1
		  AND e.is_active
		  AND e.active_version = s.active_version
		  AND e.effective_date > $2
		ORDER BY e.total_ordering, e.effective_date, e.id`, subscriptionID, asOf)
}

func (t *txn) queryEvents(ctx context.Context, sql string, args ...any) ([]entitlement.Event, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []entitlement.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (entitlement.Event, error) {
	var (
		ev                          entitlement.Event
		eventType                   string
		userType, plan, phase, list *string
	)
	err := row.Scan(&ev.ID, &ev.SubscriptionID, &eventType, &userType,
		&ev.EffectiveDate, &ev.RequestedDate, &ev.ProcessedDate,
		&plan, &phase, &list, &ev.ActiveVersion, &ev.Active, &ev.TotalOrdering)
	if pg.IsNotFoundError(err) {
		return ev, entitlement.ErrEventNotFound
	}
	if err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = entitlement.EventType(eventType)
	ev.UserType = entitlement.UserType(deref(userType))
	ev.PlanName, ev.PhaseName, ev.PriceListName = deref(plan), deref(phase), deref(list)
	ev.EffectiveDate = ev.EffectiveDate.UTC()
	ev.RequestedDate = ev.RequestedDate.UTC()
	ev.ProcessedDate = ev.ProcessedDate.UTC()
	return ev, nil
}

func affected(n int64, err error, missing error, op string) error {
	if errors.Is(err, entitlement.ErrReadOnlyTx) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
