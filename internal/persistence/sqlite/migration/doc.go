// Package migration applies versioned SQL migrations to a SQLite database.
//
// Migrations are read from an fs.FS (typically an embedded directory) and
// must be named {version}_{description}.sql, for example
// "001_initial_schema.sql". Applied versions are tracked in the
// schema_migrations table together with the checksum of the file, so a
// migration that was edited after being applied is reported instead of being
// silently skipped.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
