// Package database provides SQLite connectivity for Pulse Core.
//
// The database holds the audit journal only. Scheduler state (queue,
// rate limit windows, lock) lives in memory and is never persisted.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Forward-only schema migrations embedded in the binary
//   - Health checks
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and live in
// the top-level migrations package, which registers them via MigrationsFS.
package database
