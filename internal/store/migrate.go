package store

import (
	"database/sql"
	"fmt"

	"github.com/JonMunkholm/claimsync/migrations"
	"github.com/pressly/goose/v3"
)

// Dialect selects the migration directory and goose dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Migrate applies all pending migrations for the dialect using the embedded
// SQL files from the migrations package.
func Migrate(db *sql.DB, dialect Dialect) error {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return fmt.Errorf("unsupported migration dialect: %s", dialect)
	}

	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, string(dialect)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
