// Package redis bootstraps go-redis clients from environment configuration.
//
// Connect retries the initial ping according to Config, and Healthcheck
// returns a probe suitable for readiness endpoints. The entitlement bus uses
// the client for its Redis Streams transport.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
