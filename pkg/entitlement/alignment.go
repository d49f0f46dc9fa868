package entitlement

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// TimedPhase is a catalog phase anchored at the date it starts.
type TimedPhase struct {
	Phase catalog.Phase
	Start time.Time
}

// TimedPhases lays out the phases of plan one after another from alignStart.
// Layout stops after the first unlimited phase.
func TimedPhases(plan *catalog.Plan, alignStart time.Time) []TimedPhase {
	out := make([]TimedPhase, 0, len(plan.Phases))
	start := alignStart
	for _, ph := range plan.Phases {
		out = append(out, TimedPhase{Phase: ph, Start: start})
		end, ok := ph.Duration.AddTo(start)
		if !ok {
			break
		}
		start = end
	}
	return out
}

// PhaseAt returns the phase of plan in effect at at and the phase that
// follows it, if any.
func PhaseAt(plan *catalog.Plan, alignStart, at time.Time) (TimedPhase, *TimedPhase) {
	phases := TimedPhases(plan, alignStart)
	cur := 0
	for i, tp := range phases {
		if !tp.Start.After(at) {
			cur = i
		}
	}

	var next *TimedPhase
	if cur+1 < len(phases) {
		n := phases[cur+1]
		next = &n
	}
	return phases[cur], next
}
