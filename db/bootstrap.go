package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// ─────────────────────────────────────────────────────────────────────────────
// Schema bootstrap
// ─────────────────────────────────────────────────────────────────────────────

type migrationTarget struct {
	dir      string
	instance func(*sql.DB) (database.Driver, error)
}

var migrationTargets = map[string]migrationTarget{
	"sqlite3": {dir: "migrations/sqlite3", instance: func(db *sql.DB) (database.Driver, error) {
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}},
	"postgres": {dir: "migrations/postgres", instance: func(db *sql.DB) (database.Driver, error) {
		return migratepostgres.WithInstance(db, &migratepostgres.Config{})
	}},
	"pgx": {dir: "migrations/postgres", instance: func(db *sql.DB) (database.Driver, error) {
		return migratepgx.WithInstance(db, &migratepgx.Config{})
	}},
	"mysql": {dir: "migrations/mysql", instance: func(db *sql.DB) (database.Driver, error) {
		return migratemysql.WithInstance(db, &migratemysql.Config{})
	}},
}

// Bootstrap applies the embedded schema migrations. It is idempotent and
// safe for concurrent use: the migration runs at most once per DB, and
// later calls return immediately after the first success. A failed attempt
// is retried by the next caller.
func (d *DB) Bootstrap(ctx context.Context) error {
	if d.booted.Load() {
		return nil
	}
	d.bootMu.Lock()
	defer d.bootMu.Unlock()
	if d.booted.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return d.mapErr(err)
	}

	m, err := d.Migrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: schema bootstrap: %w", d.mapErr(err))
	}
	d.booted.Store(true)
	return nil
}

// Migrator returns a migrate instance over the embedded migrations for this
// DB's driver. It runs on its own *sql.DB so closing it leaves the pool
// untouched. The caller must Close it.
func (d *DB) Migrator() (*migrate.Migrate, error) {
	target, ok := migrationTargets[d.driver.Name()]
	if !ok {
		return nil, fmt.Errorf("db: no migrations for driver %q", d.driver.Name())
	}

	src, err := iofs.New(migrationsFS, target.dir)
	if err != nil {
		return nil, fmt.Errorf("db: migrations source: %w", err)
	}

	mdb, err := sql.Open(d.driver.Name(), d.cfg.DSN)
	if err != nil {
		_ = src.Close()
		return nil, d.connErr(err)
	}
	inst, err := target.instance(mdb)
	if err != nil {
		_ = src.Close()
		_ = mdb.Close()
		return nil, d.connErr(err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.driver.Name(), inst)
	if err != nil {
		_ = src.Close()
		_ = inst.Close()
		return nil, fmt.Errorf("db: migrate init: %w", err)
	}
	return m, nil
}
