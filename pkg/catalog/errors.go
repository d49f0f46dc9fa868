package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoVersion            = errors.New("catalog has no version effective at the given date")
	ErrPlanNotFound         = errors.New("catalog plan not found")
	ErrPhaseNotFound        = errors.New("catalog phase not found")
	ErrProductNotFound      = errors.New("catalog product not found")
	ErrPriceListNotFound    = errors.New("catalog price list not found")
	ErrInvalidCatalog       = errors.New("invalid catalog definition")
	ErrFailedToLoadCatalog  = errors.New("failed to load catalog")
	ErrFailedToParseCatalog = errors.New("failed to parse catalog")
)

// NotFoundError carries the missing entry name and lookup date.
// It unwraps to one of the ErrXNotFound sentinels.
type NotFoundError struct {
	Kind error
	Name string
	At   time.Time
}

// Error names the missing entry and the date it was looked up at.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %q at %s", e.Kind, e.Name, e.At.Format(time.RFC3339))
}

func (e *NotFoundError) Unwrap() error {
	return e.Kind
}

// IsNotFound reports whether err is any catalog lookup miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, ErrNoVersion)
}

func notFound(kind error, name string, at time.Time) error {
	return &NotFoundError{Kind: kind, Name: name, At: at}
}
