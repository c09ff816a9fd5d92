// Package database provides SQLite persistence for the serialgate
// traffic log.
//
// It wraps database/sql with lifecycle management tuned for SQLite:
// WAL journalling, busy timeout, a single-writer connection pool, and
// restrictive file permissions. The traffic log schema is applied
// idempotently on startup via Migrate.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil { ... }
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil { ... }
package database
