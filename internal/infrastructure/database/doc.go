// Package database provides SQLite connectivity for hydro-core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from an fs.FS (embedded by the migrations package)
//   - Transactions via WithTx
//   - The fixed-width timestamp format shared by every repository
//
// All timestamp columns hold FormatTime output so that range predicates
// (timeout_at < ?, created_at < ?) can compare TEXT directly.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
