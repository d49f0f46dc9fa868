package bus

import "errors"

var (
	ErrBusClosed       = errors.New("bus: closed")
	ErrPublishFailed   = errors.New("bus: failed to publish event")
	ErrConsumeFailed   = errors.New("bus: failed to read stream")
	ErrMalformedRecord = errors.New("bus: malformed stream record")
)
