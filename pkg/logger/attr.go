package logger

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups the non-nil errors under "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under "error". A nil err yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func uuidAttr(key string, id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String(key, id.String())
}

// ID records a generic identifier under "id". A nil UUID yields an empty Attr.
func ID(id uuid.UUID) slog.Attr { return uuidAttr("id", id) }

// AccountID records the account owning a bundle under "account_id".
func AccountID(id uuid.UUID) slog.Attr { return uuidAttr("account_id", id) }

// BundleID records the bundle under "bundle_id".
func BundleID(id uuid.UUID) slog.Attr { return uuidAttr("bundle_id", id) }

// SubscriptionID records the subscription under "subscription_id".
func SubscriptionID(id uuid.UUID) slog.Attr { return uuidAttr("subscription_id", id) }

// EventID records the entitlement event under "event_id".
func EventID(id uuid.UUID) slog.Attr { return uuidAttr("event_id", id) }

// ExternalKey records a bundle external key under "external_key".
func ExternalKey(key string) slog.Attr {
	return slog.String("external_key", key)
}

// Plan records a catalog plan name under "plan".
func Plan(name string) slog.Attr {
	return slog.String("plan", name)
}

// ActiveVersion records an event branch version under "active_version".
func ActiveVersion(v int64) slog.Attr {
	return slog.Int64("active_version", v)
}

// EventType records the event type under "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// RetryCount records the attempt number under "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
