package redis

import "errors"

var (
	// ErrFailedToParseRedisConnString is returned for a malformed REDIS_URL.
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	// ErrRedisNotReady is returned when no ping succeeded within the retry budget.
	ErrRedisNotReady = errors.New("redis is not ready")
	// ErrEmptyConnectionURL is returned when Config.ConnectionURL is empty.
	ErrEmptyConnectionURL = errors.New("empty redis connection URL")
	// ErrHealthcheckFailed wraps a failed readiness ping.
	ErrHealthcheckFailed = errors.New("redis healthcheck failed")
)
