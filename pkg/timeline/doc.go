// Package timeline projects entitlement bus events into the business
// transition history of each subscription.
//
// The bus delivers at least once and not necessarily in order: a PHASE
// event can arrive before the CHANGE that precedes it. Projector keeps the
// events it has seen per subscription and refolds them on every delivery,
// so a late predecessor patches the Prev side of the transitions after it.
// Duplicates are ignored, events from an older branch are dropped and a
// repair notification rebuilds the subscription from the Source.
//
// Every other delivery is checked against the Source, which is the event
// log: events it no longer lists on the active branch were superseded by a
// later cancel, uncancel or plan change and leave the timeline.
package timeline
