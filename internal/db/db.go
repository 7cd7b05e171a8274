// Package db persists the baseline: the last-synced state of every file
// under the root. The daemon diffs the tree against it on startup to
// catch changes made while it was not running.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/util"
	_ "modernc.org/sqlite"
)

var (
	dbName = "shore.sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Database struct {
	db *sql.DB
}

func New(ctx context.Context) (*Database, error) {
	return Open(ctx, filepath.Join(util.ShoreConfigDir, dbName))
}

func Open(ctx context.Context, path string) (*Database, error) {
	sqlDb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	d := &Database{sqlDb}
	err = d.runMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return d, nil
}

func (d *Database) runMigrations(ctx context.Context) error {
	err := goose.SetDialect("sqlite")
	if err != nil {
		return fmt.Errorf("could not set dialect 'sqlite': %w", err)
	}
	goose.SetLogger(logging.ShoreLoggerGoose{})
	goose.SetBaseFS(embedMigrations)

	if err = goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
