// Package sqlstore persists webhook endpoints in PostgreSQL or SQLite.
//
// Both dialects share one set of queries written with $N placeholders;
// Dialect.Rebind rewrites them for SQLite. Events are stored as a JSON
// array and every timestamp is written in UTC.
//
//	db, dialect, err := sqlstore.OpenFromConfig(ctx, cfg.Storage)
//	if err != nil {
//		return err
//	}
//	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
//		return err
//	}
//	store := sqlstore.New(db, dialect, metrics)
//
// Failure accounting increments the counter and applies the deactivation
// threshold in one UPDATE, so concurrent delivery results for the same
// endpoint never lose an increment.
package sqlstore
