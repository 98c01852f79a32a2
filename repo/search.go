package repo

import (
	"strings"

	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/models"
)

// searchBuilder grows the statement text and its bound arguments together,
// so every placeholder has exactly one argument in the same position.
type searchBuilder struct {
	sb   strings.Builder
	args []any
}

func (b *searchBuilder) add(clause string, arg any) {
	b.sb.WriteString(clause)
	b.args = append(b.args, arg)
}

// buildSearch renders the search statement for q. Filters are appended in
// a fixed order: department, role, active, then LIMIT and OFFSET.
func buildSearch(q models.UserQueryDto, dialect db.Dialect) (string, []any) {
	var b searchBuilder
	b.sb.WriteString("SELECT " + userColumns + " FROM users WHERE 1=1")

	if q.Department != nil && *q.Department != "" {
		b.add(" AND department = ?", *q.Department)
	}
	if q.Role != nil && *q.Role != "" {
		b.add(" AND role = ?", *q.Role)
	}
	if q.Active != nil {
		b.add(" AND active = ?", *q.Active)
	}

	b.sb.WriteString(" ORDER BY id")

	if q.Limit != nil {
		b.add(" LIMIT ?", *q.Limit)
	}
	if q.Offset != nil {
		if q.Limit == nil {
			b.sb.WriteString(" " + dialect.UnboundedLimit)
		}
		b.add(" OFFSET ?", *q.Offset)
	}
	return b.sb.String(), b.args
}
