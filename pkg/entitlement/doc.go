// Package entitlement is an event-sourced subscription lifecycle engine.
// A subscription has no mutable state of its own: its plan, phase and
// lifecycle state are replayed from an append-only log of events, filtered
// to the active branch (ActiveVersion) and ordered by TotalOrdering.
//
// Service is the orchestrator. Every operation runs in one Store
// transaction, validates against the catalog and the lifecycle table,
// supersedes conflicting pending events and appends new ones. Events that
// take effect later are registered with a Scheduler; the scheduler calls
// back through ProcessNotification when they are due, and the service
// publishes them on the Bus then. The last event of each operation is also
// published right away as a "requested" notification.
//
// Add-ons follow their base subscription. When the base is cancelled or
// moves to a plan that no longer offers an add-on, the add-on is cancelled
// at the same date, and reads of a bundle infer the cancel for pending
// base changes that have not happened yet.
//
// Repair rewrites history without losing it: the new branch gets the next
// ActiveVersion and the old events stay in the log.
//
// MemoryStore and the queue-backed QueueScheduler serve tests and local runs.
// Package pgstore implements Store on PostgreSQL.
//
//	svc := entitlement.NewService(pgstore.New(pool), cat, entitlement.NewQueueScheduler(scheduler), bus,
//	    entitlement.WithLogger(log),
//	    entitlement.WithMetrics(prometheus.DefaultRegisterer))
//	b, _ := svc.CreateBundle(ctx, entitlement.CreateBundleRequest{AccountID: accountID, ExternalKey: "main"})
//	sub, _ := svc.Create(ctx, entitlement.CreateRequest{BundleID: b.ID, PlanName: "basic-monthly"})
package entitlement
