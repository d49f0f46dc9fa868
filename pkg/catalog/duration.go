package catalog

import (
	"fmt"
	"time"
)

// TimeUnit is the unit of a phase duration.
type TimeUnit string

const (
	UnitDays      TimeUnit = "DAYS"
	UnitWeeks     TimeUnit = "WEEKS"
	UnitMonths    TimeUnit = "MONTHS"
	UnitYears     TimeUnit = "YEARS"
	UnitUnlimited TimeUnit = "UNLIMITED"
)

// Duration is a calendar length such as "30 DAYS" or "1 MONTHS".
type Duration struct {
	Unit   TimeUnit `yaml:"unit"`
	Number int      `yaml:"number"`
}

// Unlimited reports whether the duration never ends.
func (d Duration) Unlimited() bool {
	return d.Unit == UnitUnlimited || d.Unit == ""
}

// AddTo returns t shifted by the duration.
// The second result is false for unlimited durations.
func (d Duration) AddTo(t time.Time) (time.Time, bool) {
	switch d.Unit {
	case UnitDays:
		return t.AddDate(0, 0, d.Number), true
	case UnitWeeks:
		return t.AddDate(0, 0, 7*d.Number), true
	case UnitMonths:
		return t.AddDate(0, d.Number, 0), true
	case UnitYears:
		return t.AddDate(d.Number, 0, 0), true
	default:
		return t, false
	}
}

func (d Duration) validate() error {
	switch d.Unit {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		if d.Number <= 0 {
			return fmt.Errorf("duration %d %s must be positive", d.Number, d.Unit)
		}
	case UnitUnlimited, "":
	default:
		return fmt.Errorf("unknown duration unit %q", d.Unit)
	}
	return nil
}
