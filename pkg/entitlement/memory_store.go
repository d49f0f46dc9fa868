package entitlement

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for testing and local development.
// Write transactions are serialized and a failed one restores the state it
// started from. Read transactions run concurrently and reject writes.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	bundles map[uuid.UUID]Bundle
	subs    map[uuid.UUID]Subscription
	events  []Event
	seq     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			bundles: make(map[uuid.UUID]Bundle),
			subs:    make(map[uuid.UUID]Subscription),
		},
	}
}

// InTx implements Store.
func (ms *MemoryStore) InTx(ctx context.Context, fn TxFunc) (err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	saved := ms.state.clone()
	committed := false
	defer func() {
		if !committed {
			ms.state = saved
		}
	}()

	if err := fn(ctx, &memoryTx{state: &ms.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

// InReadTx implements Store.
func (ms *MemoryStore) InReadTx(ctx context.Context, fn TxFunc) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return fn(ctx, &memoryTx{state: &ms.state, readOnly: true})
}

func (st memoryState) clone() memoryState {
	return memoryState{
		bundles: maps.Clone(st.bundles),
		subs:    maps.Clone(st.subs),
		events:  slices.Clone(st.events),
		seq:     st.seq,
	}
}

type memoryTx struct {
	state    *memoryState
	readOnly bool
}

func (tx *memoryTx) writable() error {
	if tx.readOnly {
		return ErrReadOnlyTx
	}
	return nil
}

func (tx *memoryTx) CreateBundle(_ context.Context, b *Bundle) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, exists := tx.state.bundles[b.ID]; exists {
		return fmt.Errorf("bundle with ID %s already exists", b.ID)
	}
	tx.state.bundles[b.ID] = *b
	return nil
}

func (tx *memoryTx) BundleByID(_ context.Context, id uuid.UUID) (*Bundle, error) {
	b, ok := tx.state.bundles[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return &b, nil
}

func (tx *memoryTx) BundleByKey(_ context.Context, accountID uuid.UUID, externalKey string) (*Bundle, error) {
	for _, b := range tx.state.bundles {
		if b.AccountID == accountID && b.ExternalKey == externalKey {
			return &b, nil
		}
	}
	return nil, ErrBundleNotFound
}

func (tx *memoryTx) BundlesForAccount(_ context.Context, accountID uuid.UUID) ([]*Bundle, error) {
	var out []*Bundle
	for _, b := range tx.state.bundles {
		if b.AccountID == accountID {
			out = append(out, &b)
		}
	}
	slices.SortFunc(out, func(a, b *Bundle) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (tx *memoryTx) CreateSubscription(_ context.Context, sub *Subscription) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, exists := tx.state.subs[sub.ID]; exists {
		return fmt.Errorf("subscription with ID %s already exists", sub.ID)
	}
	tx.state.subs[sub.ID] = sub.row()
	return nil
}

func (tx *memoryTx) SubscriptionByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	sub, ok := tx.state.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (tx *memoryTx) SubscriptionsForBundle(_ context.Context, bundleID uuid.UUID) ([]*Subscription, error) {
	var out []*Subscription
	for _, sub := range tx.state.subs {
		if sub.BundleID == bundleID {
			out = append(out, &sub)
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (tx *memoryTx) UpdateChargedThrough(_ context.Context, subscriptionID uuid.UUID, at time.Time) error {
	if err := tx.writable(); err != nil {
		return err
	}
	sub, ok := tx.state.subs[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.ChargedThroughDate = &at
	tx.state.subs[subscriptionID] = sub
	return nil
}

func (tx *memoryTx) UpdateForRepair(_ context.Context, subscriptionID uuid.UUID, activeVersion int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	sub, ok := tx.state.subs[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.ActiveVersion = activeVersion
	tx.state.subs[subscriptionID] = sub
	return nil
}

func (tx *memoryTx) Append(_ context.Context, ev *Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if tx.indexOf(ev.ID) >= 0 {
		return fmt.Errorf("event with ID %s already exists", ev.ID)
	}
	if ev.TotalOrdering == 0 {
		tx.state.seq++
		ev.TotalOrdering = tx.state.seq
	} else {
		tx.state.seq = max(tx.state.seq, ev.TotalOrdering)
	}
	tx.state.events = append(tx.state.events, *ev)
	return nil
}

func (tx *memoryTx) Unactivate(_ context.Context, eventID uuid.UUID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	i := tx.indexOf(eventID)
	if i < 0 {
		return ErrEventNotFound
	}
	tx.state.events[i].Active = false
	return nil
}

func (tx *memoryTx) UpdateVersion(_ context.Context, eventID uuid.UUID, activeVersion int64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	i := tx.indexOf(eventID)
	if i < 0 {
		return ErrEventNotFound
	}
	tx.state.events[i].ActiveVersion = activeVersion
	return nil
}

func (tx *memoryTx) EventByID(_ context.Context, eventID uuid.UUID) (*Event, error) {
	i := tx.indexOf(eventID)
	if i < 0 {
		return nil, ErrEventNotFound
	}
	ev := tx.state.events[i]
	return &ev, nil
}

func (tx *memoryTx) EventsForSubscription(_ context.Context, subscriptionID uuid.UUID) ([]Event, error) {
	var out []Event
	for _, ev := range tx.state.events {
		if ev.SubscriptionID == subscriptionID {
			out = append(out, ev)
		}
	}
	SortEvents(out)
	return out, nil
}

func (tx *memoryTx) FutureActiveEvents(_ context.Context, subscriptionID uuid.UUID, asOf time.Time) ([]Event, error) {
	sub, ok := tx.state.subs[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	var out []Event
	for _, ev := range tx.state.events {
		if ev.SubscriptionID == subscriptionID && ev.Active && ev.ActiveVersion == sub.ActiveVersion && ev.IsFuture(asOf) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (tx *memoryTx) indexOf(eventID uuid.UUID) int {
	return slices.IndexFunc(tx.state.events, func(ev Event) bool { return ev.ID == eventID })
}
