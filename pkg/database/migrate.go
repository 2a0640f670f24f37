package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in migrations (rooted at dir).
// It borrows a database/sql handle from the pgx pool, since goose speaks database/sql.
func (db *PostgresDB) Migrate(ctx context.Context, migrations fs.FS, dir string) error {
	provider, sqlDB, err := db.migrationProvider(migrations, dir)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %s failed: %w", r.Source.Path, r.Error)
		}
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration
func (db *PostgresDB) MigrateDown(ctx context.Context, migrations fs.FS, dir string) error {
	provider, sqlDB, err := db.migrationProvider(migrations, dir)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion returns the currently applied schema version
func (db *PostgresDB) MigrationVersion(ctx context.Context, migrations fs.FS, dir string) (int64, error) {
	provider, sqlDB, err := db.migrationProvider(migrations, dir)
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	return provider.GetDBVersion(ctx)
}

func (db *PostgresDB) migrationProvider(migrations fs.FS, dir string) (*goose.Provider, interface{ Close() error }, error) {
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations dir %q: %w", dir, err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, sub)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, sqlDB, nil
}
