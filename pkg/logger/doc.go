// Package logger builds *slog.Logger instances with functional options and
// provides attribute constructors so every component logs the same keys.
//
// New wraps the chosen text or JSON handler in a LogHandlerDecorator that
// adds attributes extracted from the record's context; WithTraceContext uses
// this to correlate logs with OpenTelemetry spans.
//
//	log, err := logger.FromConfig(cfg) // APP_ENV, APP_NAME, LOG_LEVEL
//	if err != nil {
//	    return err
//	}
//	log.InfoContext(ctx, "subscription created",
//	    logger.SubscriptionID(sub.ID),
//	    logger.Plan(sub.CurrentPlan(now)))
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
