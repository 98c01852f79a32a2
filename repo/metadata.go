package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Skryldev/mcp-user-tools/apperr"
	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/models"
)

// GetDatabaseInfo returns a multi-line summary of the server, the driver and
// the connection. The password in the DSN is masked.
func (s *userDataService) GetDatabaseInfo(ctx context.Context) (string, error) {
	const op = "GetDatabaseInfo"
	var out string
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		dialect := conn.Dialect()

		var version string
		if err := conn.QueryRow(ctx, dialect.VersionQuery).Scan(&version); err != nil {
			return err
		}
		user := "n/a"
		if dialect.UserQuery != "" {
			if err := conn.QueryRow(ctx, dialect.UserQuery).Scan(&user); err != nil {
				return err
			}
		}

		drv := s.db.Driver()
		var b strings.Builder
		b.WriteString("--- database info ---\n")
		fmt.Fprintf(&b, "Database: %s v%s\n", dialect.Product, version)
		b.WriteString("Driver: " + drv.Name())
		if v := drv.Version(); v != "" {
			b.WriteString(" " + v)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "URL: %s\n", s.db.RedactedDSN())
		fmt.Fprintf(&b, "User: %s\n", user)
		b.WriteString("Supports batch updates: yes\n")
		b.WriteString("Supports transactions: yes\n")
		out = b.String()
		return nil
	})
	if err != nil {
		return "", s.fail(op, "reading database info", err)
	}
	return out, nil
}

// GetTableColumns lists the columns of table in ordinal order. An unknown
// table yields an empty list.
func (s *userDataService) GetTableColumns(ctx context.Context, table string) ([]models.ColumnInfo, error) {
	const op = "GetTableColumns"
	msg := fmt.Sprintf("reading columns of table %q", table)
	if strings.TrimSpace(table) == "" {
		return nil, apperr.New(apperr.BadRequest, op, msg, errors.New("table name is required"))
	}

	columns := make([]models.ColumnInfo, 0)
	err := s.withConn(ctx, op, func(ctx context.Context, conn *db.Conn) error {
		dialect := conn.Dialect()
		rows, err := conn.Query(ctx, dialect.ColumnsQuery, dialect.FoldIdentifier(table))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				col     models.ColumnInfo
				notNull int
			)
			if err := rows.Scan(&col.Name, &col.TypeName, &notNull); err != nil {
				return err
			}
			col.Nullable = notNull == 0
			columns = append(columns, col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, s.fail(op, msg, err)
	}
	return columns, nil
}
