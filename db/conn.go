package db

import (
	"context"
	"database/sql"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Conn: one dedicated session taken from the pool
// ─────────────────────────────────────────────────────────────────────────────

// Conn pins a single pooled connection for the lifetime of one logical
// operation. Every statement issued through it, transactions included, runs
// on the same session. Close returns the connection to the pool.
type Conn struct {
	raw *sql.Conn
	db  *DB
}

// Conn acquires a dedicated connection and verifies it is alive. When
// Config.AutoBootstrap is set, the schema is applied first (once per DB).
//
// Every acquisition failure is reported as ErrConnectionFailed, or as
// ErrTimeout / ErrCanceled when ctx ended first.
func (d *DB) Conn(ctx context.Context) (*Conn, error) {
	if d.cfg.AutoBootstrap {
		if err := d.Bootstrap(ctx); err != nil {
			return nil, err
		}
	}
	raw, err := d.sqldb.Conn(ctx)
	if err != nil {
		return nil, d.connErr(err)
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, d.connErr(err)
	}
	return &Conn{raw: raw, db: d}, nil
}

// Dialect returns the SQL dialect of the connection's driver.
func (c *Conn) Dialect() Dialect { return c.db.dialect }

// Close returns the connection to the pool.
func (c *Conn) Close() error { return c.raw.Close() }

// Exec executes a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = c.db.rebind(query)
	start := time.Now()
	c.db.hooks.Before(ctx, query, args)
	res, err := c.raw.ExecContext(ctx, query, args...)
	err = c.db.mapErr(err)
	c.db.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query returning rows. The caller MUST close *sql.Rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = c.db.rebind(query)
	start := time.Now()
	c.db.hooks.Before(ctx, query, args)
	rows, err := c.raw.QueryContext(ctx, query, args...)
	err = c.db.mapErr(err)
	c.db.hooks.After(ctx, query, args, time.Since(start), err)
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *Row {
	query = c.db.rebind(query)
	start := time.Now()
	c.db.hooks.Before(ctx, query, args)
	raw := c.raw.QueryRowContext(ctx, query, args...)
	c.db.hooks.After(ctx, query, args, time.Since(start), nil)
	return &Row{raw: raw, errMap: c.db.errMap}
}

// Prepare creates a prepared statement bound to this connection.
func (c *Conn) Prepare(ctx context.Context, query string) (*Stmt, error) {
	query = c.db.rebind(query)
	s, err := c.raw.PrepareContext(ctx, query)
	if err != nil {
		return nil, c.db.mapErr(err)
	}
	return &Stmt{stmt: s, query: query, hooks: c.db.hooks, errMap: c.db.errMap}, nil
}

// ExecTx runs fn inside a transaction on this connection. See DB.ExecTx.
func (c *Conn) ExecTx(ctx context.Context, fn func(*Tx) error, opts ...TxOptions) error {
	return c.db.runTx(ctx, c.raw.BeginTx, fn, opts...)
}
