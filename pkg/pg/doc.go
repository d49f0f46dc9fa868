// Package pg bootstraps the PostgreSQL layer on pgx/v5: a retrying pool
// constructor, goose migrations from an embedded filesystem, a health check,
// context-carried transactions and pgconn error classification.
//
// Transactions opened with WithTx travel in the context, so every repository
// that resolves its querier through QuerierFrom joins the same unit of work:
//
//	err := pg.WithTx(ctx, pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
//	    if _, err := tx.Exec(ctx, "UPDATE ..."); err != nil {
//	        return err
//	    }
//	    return scheduler.ScheduleAt(ctx, at, payload) // same transaction
//	})
//
// All configuration comes from PG_* environment variables, see Config.
package pg
