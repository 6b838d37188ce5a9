package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidSchema = errors.New("invalid schema name")

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchema reports whether name can be interpolated into SQL as a schema
// identifier.
func ValidSchema(name string) error {
	if !schemaPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSchema, name)
	}
	return nil
}

// EnsureSchema creates schema when missing and applies the migrations found
// in migrationsDir. An empty migrationsDir skips migrations.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema, migrationsDir string) (int, error) {
	if err := ValidSchema(schema); err != nil {
		return 0, err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrationsDir == "" {
		return 0, nil
	}
	n, err := NewMigrator(pool, migrationsDir).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
