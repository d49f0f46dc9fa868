// Package bus carries entitlement notifications to their consumers.
//
// MemoryBus fans events out to in-process subscribers and never blocks the
// publisher: a subscriber whose buffer is full is dropped. RedisBus appends
// every event to a Redis Stream and Consume reads them back in stream
// order, so consumers in other processes see each event at least once.
//
// Both implement entitlement.Bus.
//
//	b := bus.NewRedisBus(client, bus.WithStream("entitlement-events"))
//	svc := entitlement.NewService(store, cat, scheduler, b)
//
//	g.Go(func() error {
//	    return b.Consume(ctx, bus.StartFromBeginning, func(ctx context.Context, ev entitlement.BusEvent) error {
//	        return projector.Apply(ctx, ev)
//	    })
//	})
package bus
