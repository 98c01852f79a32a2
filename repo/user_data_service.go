package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Skryldev/mcp-user-tools/apperr"
	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// UserDataService interface
// ─────────────────────────────────────────────────────────────────────────────

// UserDataService is the catalog of operations over the users table.
// Every method takes its own connection from the pool and releases it
// before returning. Failures are *apperr.Error values.
type UserDataService interface {
	TestConnection(ctx context.Context) (string, error)
	CreateUser(ctx context.Context, dto models.UserCreateDto) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, dto models.UserUpdateDto) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
	FindAll(ctx context.Context) ([]models.User, error)
	FindUsersByDepartment(ctx context.Context, department string) ([]models.User, error)
	SearchUsers(ctx context.Context, q models.UserQueryDto) ([]models.User, error)
	TransferData(ctx context.Context, users []models.User) (bool, error)
	BatchInsertUsers(ctx context.Context, users []models.User) (int64, error)
	GetDatabaseInfo(ctx context.Context) (string, error)
	GetTableColumns(ctx context.Context, table string) ([]models.ColumnInfo, error)
	ExecuteCountByDepartment(ctx context.Context, department string) (int64, error)
}

// ErrUserNotFound is wrapped by NotFound failures.
var ErrUserNotFound = errors.New("user not found")

// ─────────────────────────────────────────────────────────────────────────────
// userDataService: SQL implementation
// ─────────────────────────────────────────────────────────────────────────────

type userDataService struct {
	db      *db.DB
	now     func() time.Time
	timeout time.Duration
}

// Option configures the service.
type Option func(*userDataService)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *userDataService) { s.now = now }
}

// WithQueryTimeout bounds every operation, connection acquisition included.
// Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *userDataService) { s.timeout = d }
}

// NewUserDataService returns a UserDataService backed by database.
func NewUserDataService(database *db.DB, opts ...Option) UserDataService {
	s := &userDataService{db: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ UserDataService = (*userDataService)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// SQL constants
// ─────────────────────────────────────────────────────────────────────────────

const userColumns = `id, name, email, department, role, active, created_at, updated_at`

const (
	sqlInsertUser = `
		INSERT INTO users (name, email, department, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlGetUserByID = `
		SELECT ` + userColumns + `
		FROM   users
		WHERE  id = ?`

	sqlUpdateUser = `
		UPDATE users
		SET    name = ?, email = ?, department = ?, role = ?, active = ?, updated_at = ?
		WHERE  id = ?`

	sqlDeleteUser = `
		DELETE FROM users WHERE id = ?`

	sqlFindAll = `
		SELECT ` + userColumns + `
		FROM   users
		ORDER  BY created_at DESC, id DESC`

	sqlFindByDepartment = `
		SELECT ` + userColumns + `
		FROM   users
		WHERE  department = ? AND active = TRUE
		ORDER  BY id`

	sqlCountByDepartment = `
		SELECT COUNT(*) FROM users WHERE department = ? AND active = TRUE`
)

// ─────────────────────────────────────────────────────────────────────────────
// TestConnection
// ─────────────────────────────────────────────────────────────────────────────

// TestConnection runs a trivial query and reports what it connected to.
func (s *userDataService) TestConnection(ctx context.Context) (string, error) {
	const op = "TestConnection"
	var out string
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		dialect := conn.Dialect()
		var (
			test   int
			dbName string
		)
		if err := conn.QueryRow(ctx, dialect.PingQuery).Scan(&test, &dbName); err != nil {
			if db.IsNotFound(err) {
				return &db.DBError{Sentinel: db.ErrConnectionFailed, Cause: err, Message: "test query returned no rows"}
			}
			return err
		}
		var version string
		if err := conn.QueryRow(ctx, dialect.VersionQuery).Scan(&version); err != nil {
			return err
		}
		out = fmt.Sprintf("connected to %s %s | database: %s | test: %d",
			dialect.Product, version, dbName, test)
		return nil
	})
	if err != nil {
		return "", s.fail(op, "testing connection", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CreateUser
// ─────────────────────────────────────────────────────────────────────────────

// CreateUser inserts an active user and returns it with the generated id and
// the exact timestamps that were stored.
func (s *userDataService) CreateUser(ctx context.Context, dto models.UserCreateDto) (*models.User, error) {
	const op = "CreateUser"
	now := s.timestamp()
	u := &models.User{
		Name:       dto.Name,
		Email:      dto.Email,
		Department: dto.Department,
		Role:       dto.Role,
		Active:     true,
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}

	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		id, err := insertUser(ctx, conn, u)
		if err != nil {
			return err
		}
		u.ID = id
		return nil
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, apperr.New(apperr.DuplicateEmail, op,
				fmt.Sprintf("creating user: email %q is already registered", dto.Email), err)
		}
		return nil, s.fail(op, "creating user", err)
	}
	return u, nil
}

func insertUser(ctx context.Context, q db.Querier, u *models.User) (int64, error) {
	args := []any{u.Name, u.Email, u.Department, u.Role, u.Active, *u.CreatedAt, *u.UpdatedAt}

	var dialect db.Dialect
	if c, ok := q.(*db.Conn); ok {
		dialect = c.Dialect()
	}
	if dialect.ReturningID {
		var id int64
		err := q.QueryRow(ctx, sqlInsertUser+" RETURNING id", args...).Scan(&id)
		return id, err
	}

	res, err := q.Exec(ctx, sqlInsertUser, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("insert affected no rows")
	}
	return res.LastInsertId()
}

// ─────────────────────────────────────────────────────────────────────────────
// FindUserByID
// ─────────────────────────────────────────────────────────────────────────────

// FindUserByID returns the user with id, or nil when there is none.
func (s *userDataService) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "FindUserByID"
	var u *models.User
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) (err error) {
		u, err = findUser(ctx, conn, id)
		return err
	})
	if err != nil {
		return nil, s.fail(op, fmt.Sprintf("finding user %d", id), err)
	}
	return u, nil
}

func findUser(ctx context.Context, q db.Querier, id int64) (*models.User, error) {
	u, err := scanUser(q.QueryRow(ctx, sqlGetUserByID, id))
	if db.IsNotFound(err) {
		return nil, nil
	}
	return u, err
}

// ─────────────────────────────────────────────────────────────────────────────
// UpdateUser
// ─────────────────────────────────────────────────────────────────────────────

// UpdateUser merges dto into the stored user and returns the re-read row.
// updated_at always moves forward.
func (s *userDataService) UpdateUser(ctx context.Context, id int64, dto models.UserUpdateDto) (*models.User, error) {
	const op = "UpdateUser"
	msg := fmt.Sprintf("updating user %d", id)

	var updated *models.User
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		current, err := findUser(ctx, conn, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperr.New(apperr.NotFound, op, msg, ErrUserNotFound)
		}

		merged := dto.Apply(*current)
		updatedAt := s.nextUpdate(current)

		res, err := conn.Exec(ctx, sqlUpdateUser,
			merged.Name, merged.Email, merged.Department, merged.Role, merged.Active, updatedAt, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.New(apperr.NotFound, op, msg, ErrUserNotFound)
		}

		updated, err = findUser(ctx, conn, id)
		if err != nil {
			return err
		}
		if updated == nil {
			return apperr.New(apperr.NotFound, op, msg, ErrUserNotFound)
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, apperr.New(apperr.DuplicateEmail, op, msg+": email is already registered", err)
		}
		return nil, s.fail(op, msg, err)
	}
	return updated, nil
}

// nextUpdate returns the current time, nudged forward if needed so it is
// strictly after both stored timestamps.
func (s *userDataService) nextUpdate(u *models.User) time.Time {
	now := s.timestamp()
	var floor time.Time
	if u.CreatedAt != nil {
		floor = *u.CreatedAt
	}
	if u.UpdatedAt != nil && u.UpdatedAt.After(floor) {
		floor = *u.UpdatedAt
	}
	if !now.After(floor) {
		now = floor.Add(time.Microsecond)
	}
	return now
}

// ─────────────────────────────────────────────────────────────────────────────
// DeleteUser
// ─────────────────────────────────────────────────────────────────────────────

// DeleteUser removes the user with id. It reports false, without error, when
// there was nothing to delete.
func (s *userDataService) DeleteUser(ctx context.Context, id int64) (bool, error) {
	const op = "DeleteUser"
	var deleted bool
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		existing, err := findUser(ctx, conn, id)
		if err != nil || existing == nil {
			return err
		}
		res, err := conn.Exec(ctx, sqlDeleteUser, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, s.fail(op, fmt.Sprintf("deleting user %d", id), err)
	}
	return deleted, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Listing
// ─────────────────────────────────────────────────────────────────────────────

// FindAll returns every user, newest first.
func (s *userDataService) FindAll(ctx context.Context) ([]models.User, error) {
	const op = "FindAll"
	var users []models.User
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) (err error) {
		users, err = queryUsers(ctx, conn, sqlFindAll)
		return err
	})
	if err != nil {
		return nil, s.fail(op, "listing users", err)
	}
	return users, nil
}

// FindUsersByDepartment returns the active users of department. The value
// is matched literally; an empty string matches only empty departments.
func (s *userDataService) FindUsersByDepartment(ctx context.Context, department string) ([]models.User, error) {
	const op = "FindUsersByDepartment"
	var users []models.User
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) (err error) {
		users, err = queryUsers(ctx, conn, sqlFindByDepartment, department)
		return err
	})
	if err != nil {
		return nil, s.fail(op, fmt.Sprintf("listing users of department %q", department), err)
	}
	return users, nil
}

// SearchUsers applies the non-empty filters of q.
func (s *userDataService) SearchUsers(ctx context.Context, q models.UserQueryDto) ([]models.User, error) {
	const op = "SearchUsers"
	if (q.Limit != nil && *q.Limit < 0) || (q.Offset != nil && *q.Offset < 0) {
		return nil, apperr.New(apperr.BadRequest, op, "searching users",
			errors.New("limit and offset must not be negative"))
	}

	var users []models.User
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) (err error) {
		query, args := buildSearch(q, conn.Dialect())
		users, err = queryUsers(ctx, conn, query, args...)
		return err
	})
	if err != nil {
		return nil, s.fail(op, "searching users", err)
	}
	return users, nil
}

// ExecuteCountByDepartment counts the active users of department.
func (s *userDataService) ExecuteCountByDepartment(ctx context.Context, department string) (int64, error) {
	const op = "ExecuteCountByDepartment"
	var n int64
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		return conn.QueryRow(ctx, sqlCountByDepartment, department).Scan(&n)
	})
	if err != nil {
		return 0, s.fail(op, fmt.Sprintf("counting users of department %q", department), err)
	}
	return n, nil
}

func queryUsers(ctx context.Context, q db.Querier, query string, args ...any) ([]models.User, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// TransferData / BatchInsertUsers
// ─────────────────────────────────────────────────────────────────────────────

// TransferData inserts all users in one transaction. Either every row is
// committed and true is returned, or none is and a TransactionError is
// returned.
func (s *userDataService) TransferData(ctx context.Context, users []models.User) (bool, error) {
	const op = "TransferData"
	now := s.timestamp()
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		return conn.ExecTx(ctx, func(tx *db.Tx) error {
			_, err := db.BatchExec(ctx, tx, sqlInsertUser, users, insertArgs(now))
			return err
		})
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return false, err
		}
		if db.IsRollbackFailed(err) {
			return false, apperr.New(apperr.TransactionError, op, "transferring users: rollback failed", err)
		}
		return false, apperr.New(apperr.TransactionError, op, "transferring users: transaction rolled back", err)
	}
	return true, nil
}

// BatchInsertUsers inserts users one statement at a time outside any
// transaction and returns the number of rows inserted. Rows inserted before
// a failure stay inserted.
func (s *userDataService) BatchInsertUsers(ctx context.Context, users []models.User) (int64, error) {
	const op = "BatchInsertUsers"
	if len(users) == 0 {
		return 0, nil
	}
	now := s.timestamp()
	var total int64
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) (err error) {
		total, err = db.BatchExec(ctx, conn, sqlInsertUser, users, insertArgs(now))
		return err
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return total, err
		}
		return total, apperr.New(apperr.DatabaseError, op,
			fmt.Sprintf("batch inserting users (%d inserted before failure)", total), err)
	}
	return total, nil
}

// insertArgs binds a user for sqlInsertUser. Missing timestamps default to
// now; updated_at never precedes created_at.
func insertArgs(now time.Time) func(models.User) []any {
	return func(u models.User) []any {
		created := now
		if u.CreatedAt != nil {
			created = u.CreatedAt.UTC()
		}
		updated := now
		if updated.Before(created) {
			updated = created
		}
		return []any{u.Name, u.Email, u.Department, u.Role, u.Active, created, updated}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// scanUser: centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row of userColumns. NULL timestamps map to nil.
func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		created, updated sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Department, &u.Role, &u.Active, &created, &updated)
	if err != nil {
		return nil, err
	}
	if created.Valid {
		t := created.Time.UTC()
		u.CreatedAt = &t
	}
	if updated.Valid {
		t := updated.Time.UTC()
		u.UpdatedAt = &t
	}
	return &u, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// withConn bounds ctx, takes one connection for fn and always releases it.
func (s *userDataService) withConn(ctx context.Context, op string, fn func(context.Context, *db.Conn) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		if db.IsTimeout(err) || db.IsCanceled(err) {
			return apperr.New(apperr.DatabaseError, op, "waiting for connection", err)
		}
		return apperr.New(apperr.ConnectionError, op, "acquiring connection", err)
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// fail classifies err for op. Errors that already carry a kind pass through.
func (s *userDataService) fail(op, msg string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	kind := apperr.DatabaseError
	switch {
	case db.IsConnectionFailed(err):
		kind = apperr.ConnectionError
	case db.IsDuplicateKey(err):
		kind = apperr.DuplicateEmail
	}
	return apperr.New(kind, op, msg, err)
}

// timestamp returns the clock in UTC at microsecond precision, the finest
// precision every supported database stores.
func (s *userDataService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
