// Package database provides the SQLite connection used by the event journal.
//
// The connection runs with WAL mode and a busy timeout, a single pooled
// connection, and 0600 file permissions. Schema changes are versioned SQL
// files applied through Migrate from any fs.FS, normally the embedded
// files of the top-level migrations package:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns are nullable or carry a default,
// and every .up.sql ships with a .down.sql.
package database
