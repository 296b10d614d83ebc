// Package database provides the SQLite store behind the graph history.
//
// Connections use WAL mode and a busy timeout, with a single open
// connection. The database file is created with 0600 permissions.
//
// Migrations are passed in as an fs.FS (see the top-level migrations
// package) and are additive only: each file pair
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql runs in its own
// transaction and is recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
