package db

import (
	"context"
	"database/sql"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Tx: transaction wrapper
// ─────────────────────────────────────────────────────────────────────────────

// Tx is a thin wrapper around *sql.Tx that mirrors the DB API surface so that
// code can accept a *DB, *Conn or *Tx via the Querier interface.
type Tx struct {
	sqltx *sql.Tx
	db    *DB
}

// Exec executes a statement that does not return rows.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = t.db.rebind(query)
	start := time.Now()
	t.db.hooks.Before(ctx, query, args)
	res, err := t.sqltx.ExecContext(ctx, query, args...)
	err = t.db.mapErr(err)
	t.db.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query returning rows. The caller MUST close *sql.Rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = t.db.rebind(query)
	start := time.Now()
	t.db.hooks.Before(ctx, query, args)
	rows, err := t.sqltx.QueryContext(ctx, query, args...)
	err = t.db.mapErr(err)
	t.db.hooks.After(ctx, query, args, time.Since(start), err)
	return rows, err
}

// QueryRow executes a query expected to return at most one row.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	query = t.db.rebind(query)
	start := time.Now()
	t.db.hooks.Before(ctx, query, args)
	raw := t.sqltx.QueryRowContext(ctx, query, args...)
	t.db.hooks.After(ctx, query, args, time.Since(start), nil)
	return &Row{raw: raw, errMap: t.db.errMap}
}

// Prepare creates a prepared statement within the transaction.
func (t *Tx) Prepare(ctx context.Context, query string) (*Stmt, error) {
	query = t.db.rebind(query)
	s, err := t.sqltx.PrepareContext(ctx, query)
	if err != nil {
		return nil, t.db.mapErr(err)
	}
	return &Stmt{stmt: s, query: query, hooks: t.db.hooks, errMap: t.db.errMap}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecTx: the primary transaction helper
// ─────────────────────────────────────────────────────────────────────────────

// TxOptions allows callers to configure isolation level and read-only flag.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ExecTx starts a transaction on the pool, executes fn, and commits on
// success or rolls back on error or panic.
//
// If the rollback itself fails, the returned error matches ErrRollbackFailed
// and still unwraps to the original failure.
//
//	err := db.ExecTx(ctx, func(tx *Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE users SET active = ? WHERE id = ?", false, id)
//	    return err
//	})
func (d *DB) ExecTx(ctx context.Context, fn func(*Tx) error, opts ...TxOptions) error {
	return d.runTx(ctx, d.sqldb.BeginTx, fn, opts...)
}

type beginFunc func(context.Context, *sql.TxOptions) (*sql.Tx, error)

func (d *DB) runTx(ctx context.Context, begin beginFunc, fn func(*Tx) error, opts ...TxOptions) (err error) {
	var sqlOpts *sql.TxOptions
	if len(opts) > 0 {
		sqlOpts = &sql.TxOptions{
			Isolation: opts[0].Isolation,
			ReadOnly:  opts[0].ReadOnly,
		}
	}

	sqltx, err := begin(ctx, sqlOpts)
	if err != nil {
		return d.mapErr(err)
	}

	tx := &Tx{sqltx: sqltx, db: d}

	// Ensure rollback on panic or error.
	defer func() {
		if p := recover(); p != nil {
			_ = sqltx.Rollback()
			panic(p) // re-panic after rollback
		}
		if err != nil {
			if rbErr := sqltx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = &DBError{Sentinel: ErrRollbackFailed, Cause: err, Message: rbErr.Error()}
			}
		}
	}()

	if err = fn(tx); err != nil {
		return d.mapErr(err) // rollback handled by defer
	}

	if err = sqltx.Commit(); err != nil {
		return d.mapErr(err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Querier: the shared statement surface
// ─────────────────────────────────────────────────────────────────────────────

// Querier is the minimal interface shared by *DB, *Conn and *Tx.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Prepare(ctx context.Context, query string) (*Stmt, error)
}

// Verify at compile-time that *DB, *Conn and *Tx satisfy Querier.
var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Conn)(nil)
	_ Querier = (*Tx)(nil)
)
