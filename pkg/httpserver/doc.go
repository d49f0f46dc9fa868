// Package httpserver runs the operational HTTP endpoints of a process.
//
// Server wraps http.Server for use under an errgroup: Run blocks until its
// context is done and then shuts down within the configured timeout.
// NewOpsRouter mounts liveness, readiness and Prometheus metrics on a chi
// router.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(func() error {
//	    return srv.Run(ctx, httpserver.NewOpsRouter(log, registry,
//	        httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)},
//	    ))
//	})
package httpserver
