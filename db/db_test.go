// Uses a temp-file SQLite database; no external services required.
package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/mcp-user-tools/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

const insertUser = `INSERT INTO users (name, email, department, role, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func testDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "users.db") + "?_busy_timeout=5000"
}

func openTestDB(t *testing.T, hooks ...db.Hook) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{
		DSN:           testDSN(t),
		DriverName:    "sqlite3",
		AutoBootstrap: true,
		Hooks:         hooks,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d := openTestDB(t, db.NewLogHook(db.LogHookConfig{LogArgs: true}))
	if err := d.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return d
}

func userArgs(name, email string) []any {
	now := time.Now().UTC()
	return []any{name, email, "IT", "dev", true, now, now}
}

func countUsers(t *testing.T, d *db.DB, where string, args ...any) int {
	t.Helper()
	var n int
	if err := d.QueryRow(context.Background(), `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Open / Ping
// ─────────────────────────────────────────────────────────────────────────────

func TestOpen(t *testing.T) {
	d := newTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if d.Dialect().Product != "SQLite" {
		t.Fatalf("unexpected product %q", d.Dialect().Product)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	if _, err := db.Open(db.Config{DSN: "", DriverName: "sqlite3"}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := db.Open(db.Config{DSN: "x.db", DriverName: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_UnreachableIsConnectionFailed(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "users.db")
	_, err := db.Open(db.Config{DSN: dsn, DriverName: "sqlite3", ConnectAttempts: 2})
	if !db.IsConnectionFailed(err) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestOpenWithDriver_BuildsDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "built.db")
	d, err := db.OpenWithDriver("sqlite3", db.DriverOptions{
		Database: path,
		Extra:    map[string]string{"_busy_timeout": "5000"},
	}, db.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if got := d.RedactedDSN(); got != path+"?_busy_timeout=5000" {
		t.Fatalf("unexpected DSN %q", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Bootstrap
// ─────────────────────────────────────────────────────────────────────────────

func TestBootstrap_Idempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := d.Bootstrap(ctx); err != nil {
			t.Fatalf("bootstrap #%d: %v", i+1, err)
		}
	}
	if n := countUsers(t, d, "1=1"); n != 0 {
		t.Fatalf("expected empty table, got %d rows", n)
	}
}

func TestBootstrap_Concurrent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.Bootstrap(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent bootstrap: %v", err)
		}
	}

	m, err := d.Migrator()
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	defer m.Close()
	v, dirty, err := m.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("unexpected schema version %d dirty=%v", v, dirty)
	}
}

func TestConn_BootstrapsLazily(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	conn, err := d.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(ctx, insertUser, userArgs("Lazy", "lazy@test.com")...); err != nil {
		t.Fatalf("insert after lazy bootstrap: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Exec / QueryRow
// ─────────────────────────────────────────────────────────────────────────────

func TestExec_Insert(t *testing.T) {
	d := newTestDB(t)

	res, err := d.Exec(context.Background(), insertUser, userArgs("Alice", "alice@test.com")...)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}
}

func TestConn_QueryRow(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	conn, err := d.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(ctx, insertUser, userArgs("Bob", "bob@test.com")...); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var name, dept string
	var active bool
	err = conn.QueryRow(ctx, `SELECT name, department, active FROM users WHERE email = ?`, "bob@test.com").
		Scan(&name, &dept, &active)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "Bob" || dept != "IT" || !active {
		t.Fatalf("unexpected values: name=%q dept=%q active=%v", name, dept, active)
	}

	err = conn.QueryRow(ctx, `SELECT name FROM users WHERE id = ?`, 99999).Scan(&name)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConn_ClosedIsConnectionFailed(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	conn, err := d.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	_ = conn.Close()

	_, err = conn.Exec(ctx, `SELECT 1`)
	if !db.IsConnectionFailed(err) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecTx
// ─────────────────────────────────────────────────────────────────────────────

func TestExecTx_Commit(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		_, err := tx.Exec(ctx, insertUser, userArgs("Dave", "dave@tx.com")...)
		return err
	})
	if err != nil {
		t.Fatalf("tx commit: %v", err)
	}
	if n := countUsers(t, d, "email = ?", "dave@tx.com"); n != 1 {
		t.Fatalf("expected 1 committed row, got %d", n)
	}
}

func TestConnExecTx_RollbackOnError(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	conn, err := d.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()

	sentinelErr := errors.New("intentional failure")
	err = conn.ExecTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.Exec(ctx, insertUser, userArgs("Eve", "eve@rollback.com")...); err != nil {
			return err
		}
		return sentinelErr // force rollback
	})
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("expected sentinelErr, got %v", err)
	}
	if db.IsRollbackFailed(err) {
		t.Fatalf("rollback should have succeeded: %v", err)
	}
	if n := countUsers(t, d, "email = ?", "eve@rollback.com"); n != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", n)
	}

	// the connection is usable again after the rollback
	if _, err := conn.Exec(ctx, insertUser, userArgs("Eve", "eve@rollback.com")...); err != nil {
		t.Fatalf("insert after rollback: %v", err)
	}
}

func TestExecTx_RollbackFailure(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	sentinelErr := errors.New("intentional failure")
	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.Exec(ctx, insertUser, userArgs("Mallory", "mallory@rollback.com")...); err != nil {
			return err
		}
		// end the transaction behind the wrapper's back
		if _, err := tx.Exec(ctx, "ROLLBACK"); err != nil {
			return err
		}
		return sentinelErr
	})
	if !db.IsRollbackFailed(err) {
		t.Fatalf("expected ErrRollbackFailed, got %v", err)
	}
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("original failure lost: %v", err)
	}
	if n := countUsers(t, d, "email = ?", "mallory@rollback.com"); n != 0 {
		t.Fatalf("expected 0 rows, got %d", n)
	}
}

func TestExecTx_RollbackOnPanic(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = d.ExecTx(ctx, func(tx *db.Tx) error {
			if _, err := tx.Exec(ctx, insertUser, userArgs("Pan", "panic@tx.com")...); err != nil {
				return err
			}
			panic("test panic")
		})
	}()

	if n := countUsers(t, d, "email = ?", "panic@tx.com"); n != 0 {
		t.Fatalf("expected 0 rows after panic, got %d", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Prepared statements / BatchExec
// ─────────────────────────────────────────────────────────────────────────────

func TestPrepare(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	stmt, err := d.Prepare(ctx, insertUser)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer stmt.Close()

	for _, email := range []string{"p1@test.com", "p2@test.com", "p3@test.com"} {
		if _, err := stmt.Exec(ctx, userArgs("PrepUser", email)...); err != nil {
			t.Fatalf("exec prepared: %v", err)
		}
	}
	if n := countUsers(t, d, "name = ?", "PrepUser"); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

type row struct{ Name, Email string }

func rowArgs(r row) []any { return userArgs(r.Name, r.Email) }

func TestBatchExec(t *testing.T) {
	d := newTestDB(t)

	items := []row{
		{"Batch1", "b1@test.com"},
		{"Batch2", "b2@test.com"},
		{"Batch3", "b3@test.com"},
	}
	n, err := db.BatchExec(context.Background(), d, insertUser, items, rowArgs)
	if err != nil {
		t.Fatalf("batch exec: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 affected rows, got %d", n)
	}
	if got := countUsers(t, d, "name LIKE 'Batch%'"); got != 3 {
		t.Fatalf("expected 3 batch rows, got %d", got)
	}
}

func TestBatchExec_StopsAtFirstFailure(t *testing.T) {
	d := newTestDB(t)

	items := []row{
		{"Batch1", "b1@test.com"},
		{"Batch2", "b1@test.com"}, // duplicate email
		{"Batch3", "b3@test.com"},
	}
	n, err := db.BatchExec(context.Background(), d, insertUser, items, rowArgs)
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row before failure, got %d", n)
	}
	// not atomic: the first row stays
	if got := countUsers(t, d, "name LIKE 'Batch%'"); got != 1 {
		t.Fatalf("expected 1 persisted row, got %d", got)
	}
}

func TestBatchExec_InsideTxIsAtomic(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	items := []row{
		{"Batch1", "b1@test.com"},
		{"Batch2", "b1@test.com"},
	}
	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		_, err := db.BatchExec(ctx, tx, insertUser, items, rowArgs)
		return err
	})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if got := countUsers(t, d, "name LIKE 'Batch%'"); got != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping
// ─────────────────────────────────────────────────────────────────────────────

func TestErrorMapper_DuplicateKey(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	insert := func() error {
		_, err := d.Exec(ctx, insertUser, userArgs("Alice", "dup@test.com")...)
		return err
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := insert() // should trigger UNIQUE constraint
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "users.email") {
		t.Fatalf("expected the column in the message, got %q", err.Error())
	}
}

func TestErrorMapper_NotNull(t *testing.T) {
	d := newTestDB(t)
	now := time.Now()

	_, err := d.Exec(context.Background(), insertUser, nil, "nn@test.com", "IT", "dev", true, now, now)
	if !db.IsCheckViolation(err) {
		t.Fatalf("expected ErrCheckViolation, got %v", err)
	}
}

func TestChainMapper_FirstMatchWins(t *testing.T) {
	custom := errors.New("custom")
	m := db.ChainMapper(
		db.ErrorMapperFunc(func(err error) error { return err }),
		db.ErrorMapperFunc(func(err error) error { return custom }),
	)
	if got := m.Map(errors.New("raw")); got != custom {
		t.Fatalf("expected custom, got %v", got)
	}
	if got := m.Map(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestErrorMapper_ContextExpiry(t *testing.T) {
	err := db.DefaultErrorMapper().Map(context.DeadlineExceeded)
	if !db.IsTimeout(err) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestErrorMapper_Canceled(t *testing.T) {
	err := db.DefaultErrorMapper().Map(context.Canceled)
	if !db.IsCanceled(err) || db.IsTimeout(err) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if strings.Contains(err.Error(), "timeout") {
		t.Fatalf("cancellation reported as a timeout: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry
// ─────────────────────────────────────────────────────────────────────────────

func TestWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	transient := errors.New("transient")

	err := db.WithRetry(context.Background(), db.RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		RetryOn:     func(err error) bool { return errors.Is(err, transient) },
	}, func() error {
		attempts++
		if attempts < 2 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0

	err := db.WithRetry(context.Background(), db.RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		RetryOn:     func(err error) bool { return errors.Is(err, permanent) },
	}, func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped permanent error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Hooks
// ─────────────────────────────────────────────────────────────────────────────

type countingHook struct {
	mu     sync.Mutex
	before int
	after  int
	verbs  []string
}

func (h *countingHook) BeforeQuery(_ context.Context, _ string, _ []any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before++
}

func (h *countingHook) AfterQuery(_ context.Context, q string, _ []any, _ time.Duration, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after++
	h.verbs = append(h.verbs, db.StatementVerb(q))
}

func TestHooks_CalledOnExec(t *testing.T) {
	hook := &countingHook{}
	d := openTestDB(t, hook)

	_, _ = d.Exec(context.Background(), `SELECT 1`)

	if hook.before != 1 || hook.after != 1 {
		t.Fatalf("hook not called: before=%d after=%d", hook.before, hook.after)
	}
	if hook.verbs[0] != "SELECT" {
		t.Fatalf("unexpected verb %q", hook.verbs[0])
	}
}

type panickingHook struct{}

func (panickingHook) BeforeQuery(context.Context, string, []any) { panic("before") }
func (panickingHook) AfterQuery(context.Context, string, []any, time.Duration, error) {
	panic("after")
}

func TestHooks_PanicIsRecovered(t *testing.T) {
	d := openTestDB(t, panickingHook{})
	if _, err := d.Exec(context.Background(), `SELECT 1`); err != nil {
		t.Fatalf("exec: %v", err)
	}
}

func TestStatementVerb(t *testing.T) {
	cases := map[string]string{
		"  select 1":                    "SELECT",
		"\n\t\tINSERT INTO users (a)":   "INSERT",
		"UPDATE users SET a = 1":        "UPDATE",
		"WITH x AS (SELECT 1) SELECT *": "WITH",
		"":                              "UNKNOWN",
	}
	for in, want := range cases {
		if got := db.StatementVerb(in); got != want {
			t.Errorf("StatementVerb(%q) = %q, want %q", in, got, want)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Context cancellation
// ─────────────────────────────────────────────────────────────────────────────

func TestConn_CanceledContext(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Conn(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if !db.IsCanceled(err) || db.IsTimeout(err) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}
