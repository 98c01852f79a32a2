package db

import (
	"fmt"
	"net/url"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	// database/sql drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// ─────────────────────────────────────────────────────────────────────────────
// Driver interface
// ─────────────────────────────────────────────────────────────────────────────

// Driver encapsulates database-specific behaviour:
//   - building a DSN from structured options
//   - providing a driver-specific ErrorMapper
//   - describing the SQL dialect used for metadata and paging
type Driver interface {
	// Name returns the name passed to sql.Register, e.g. "pgx", "mysql".
	Name() string

	// DSN converts structured options into a driver DSN string.
	DSN(opts DriverOptions) (string, error)

	// ErrorMapper returns a mapper tuned to this driver's error types.
	ErrorMapper() ErrorMapper

	// Dialect describes the SQL differences the tools care about.
	Dialect() Dialect

	// Redact returns dsn with any password masked, safe for logs.
	Redact(dsn string) string

	// Version reports the driver library version, or "" when unknown.
	Version() string
}

// DriverOptions carries the most common connection parameters in a structured,
// driver-agnostic form. DSN() converts them to the driver's native format.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-full", etc.
	// Extra holds driver-specific key/value parameters.
	Extra map[string]string
}

// ─────────────────────────────────────────────────────────────────────────────
// Dialect
// ─────────────────────────────────────────────────────────────────────────────

// Dialect captures per-database SQL differences. Statements are written with
// '?' placeholders and rebound according to BindType.
type Dialect struct {
	// Product is the human-readable database product name.
	Product string
	// BindType is one of the sqlx bind types (QUESTION, DOLLAR, ...).
	BindType int
	// ReturningID reports whether INSERT ... RETURNING id must be used
	// instead of LastInsertId.
	ReturningID bool
	// PingQuery returns one row: a constant 1 and the current catalog name.
	PingQuery string
	// VersionQuery returns the server version as a single string column.
	VersionQuery string
	// UserQuery returns the connected user name. Empty when the database
	// has no notion of users.
	UserQuery string
	// ColumnsQuery takes the folded table name and returns
	// (name, type, notnull) rows in ordinal order.
	ColumnsQuery string
	// UnboundedLimit is a LIMIT clause that places no bound, used when
	// an OFFSET is given without a LIMIT.
	UnboundedLimit string
	// FoldIdentifier converts an unquoted identifier to the case the
	// catalog stores it in.
	FoldIdentifier func(string) string
}

func foldNone(s string) string { return s }

// ─────────────────────────────────────────────────────────────────────────────
// Driver registry
// ─────────────────────────────────────────────────────────────────────────────

var drivers = map[string]Driver{
	"postgres": PostgresDriver{},
	"pgx":      PgxDriver{},
	"mysql":    MySQLDriver{},
	"sqlite3":  SQLiteDriver{},
}

// LookupDriver returns the built-in Driver by name or an error.
func LookupDriver(name string) (Driver, error) {
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("db: driver %q not registered", name)
	}
	return d, nil
}

// OpenWithDriver opens a DB using a registered Driver. When cfg.DSN is empty
// the DSN is built from driverOpts.
//
//	db, err := db.OpenWithDriver("pgx", db.DriverOptions{
//	    Host: "localhost", Port: 5432,
//	    User: "app", Password: "secret", Database: "appdb",
//	}, db.Config{MaxOpenConns: 25})
func OpenWithDriver(driverName string, driverOpts DriverOptions, cfg Config) (*DB, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}

	if cfg.DSN == "" {
		dsn, err := drv.DSN(driverOpts)
		if err != nil {
			return nil, fmt.Errorf("db: DSN construction failed: %w", err)
		}
		cfg.DSN = dsn
	}
	cfg.DriverName = drv.Name()

	return Open(cfg)
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapters (lib/pq, pgx)
// ─────────────────────────────────────────────────────────────────────────────

const postgresColumnsQuery = `SELECT column_name, data_type, CASE WHEN is_nullable = 'NO' THEN 1 ELSE 0 END
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = ?
ORDER BY ordinal_position`

func postgresDialect() Dialect {
	return Dialect{
		Product:        "PostgreSQL",
		BindType:       sqlx.DOLLAR,
		ReturningID:    true,
		PingQuery:      "SELECT 1 AS test, current_database() AS db_name",
		VersionQuery:   "SHOW server_version",
		UserQuery:      "SELECT current_user",
		ColumnsQuery:   postgresColumnsQuery,
		UnboundedLimit: "LIMIT ALL",
		FoldIdentifier: strings.ToLower,
	}
}

// PostgresDriver is the built-in lib/pq adapter.
type PostgresDriver struct{}

func (PostgresDriver) Name() string { return "postgres" }

func (PostgresDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("postgres driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, port, o.User, o.Password, o.Database, sslMode,
	)
	for _, k := range sortedKeys(o.Extra) {
		dsn += fmt.Sprintf(" %s=%s", k, o.Extra[k])
	}
	return dsn, nil
}

func (PostgresDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapPostgresError) }
func (PostgresDriver) Dialect() Dialect         { return postgresDialect() }
func (PostgresDriver) Redact(dsn string) string { return redactDSN(dsn) }
func (PostgresDriver) Version() string          { return moduleVersion("github.com/lib/pq") }

// PgxDriver is the jackc/pgx stdlib adapter. It shares DSN construction and
// dialect with PostgresDriver.
type PgxDriver struct{ PostgresDriver }

func (PgxDriver) Name() string    { return "pgx" }
func (PgxDriver) Version() string { return moduleVersion("github.com/jackc/pgx/v5") }

// ─────────────────────────────────────────────────────────────────────────────
// MySQL driver adapter
// ─────────────────────────────────────────────────────────────────────────────

// MySQLDriver is the built-in go-sql-driver/mysql adapter.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("mysql driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		o.User, o.Password, o.Host, port, o.Database)
	for _, k := range sortedKeys(o.Extra) {
		dsn += fmt.Sprintf("&%s=%s", k, o.Extra[k])
	}
	return dsn, nil
}

func (MySQLDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapMySQLError) }

func (MySQLDriver) Dialect() Dialect {
	return Dialect{
		Product:      "MySQL",
		BindType:     sqlx.QUESTION,
		PingQuery:    "SELECT 1 AS test, DATABASE() AS db_name",
		VersionQuery: "SELECT VERSION()",
		UserQuery:    "SELECT CURRENT_USER()",
		ColumnsQuery: `SELECT column_name, data_type, CASE WHEN is_nullable = 'NO' THEN 1 ELSE 0 END
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`,
		UnboundedLimit: "LIMIT 18446744073709551615",
		FoldIdentifier: foldNone,
	}
}

var mysqlPassword = regexp.MustCompile(`^([^:@/]*):[^@]*@`)

func (MySQLDriver) Redact(dsn string) string {
	return mysqlPassword.ReplaceAllString(dsn, "${1}:xxxxx@")
}

func (MySQLDriver) Version() string { return moduleVersion("github.com/go-sql-driver/mysql") }

// ─────────────────────────────────────────────────────────────────────────────
// SQLite driver adapter
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteDriver is the built-in mattn/go-sqlite3 adapter.
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", fmt.Errorf("sqlite3 driver: Database (file path) is required")
	}
	dsn := o.Database
	for i, k := range sortedKeys(o.Extra) {
		if i == 0 {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dsn += k + "=" + o.Extra[k]
	}
	return dsn, nil
}

func (SQLiteDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapSQLiteError) }

func (SQLiteDriver) Dialect() Dialect {
	return Dialect{
		Product:        "SQLite",
		BindType:       sqlx.QUESTION,
		PingQuery:      "SELECT 1 AS test, 'main' AS db_name",
		VersionQuery:   "SELECT sqlite_version()",
		ColumnsQuery:   `SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`,
		UnboundedLimit: "LIMIT -1",
		FoldIdentifier: foldNone,
	}
}

// SQLite DSNs carry no credentials.
func (SQLiteDriver) Redact(dsn string) string { return dsn }

func (SQLiteDriver) Version() string {
	lib, _, _ := sqlite3.Version()
	if v := moduleVersion("github.com/mattn/go-sqlite3"); v != "" {
		return fmt.Sprintf("%s (sqlite %s)", v, lib)
	}
	return "sqlite " + lib
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

var kvPassword = regexp.MustCompile(`(?i)(password=)\S+`)

// redactDSN masks passwords in URL and key=value style DSNs.
func redactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
	}
	return kvPassword.ReplaceAllString(dsn, "${1}xxxxx")
}

// moduleVersion looks up the version of a dependency compiled into the
// running binary. It returns "" when the version is not recorded.
func moduleVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
