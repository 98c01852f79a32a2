package models

import "time"

// User represents a row in the "users" table.
// Fields map 1-to-1 with columns; a NULL timestamp maps to nil.
type User struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Department string     `json:"department"`
	Role       string     `json:"role"`
	Active     bool       `json:"active"`
	CreatedAt  *time.Time `json:"createdAt"`
	UpdatedAt  *time.Time `json:"updatedAt"`
}

// UserCreateDto holds the fields required to create a new user.
type UserCreateDto struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required"`
	Department string `json:"department" validate:"required"`
	Role       string `json:"role" validate:"required"`
}

// UserUpdateDto holds fields that can be updated. All fields are pointers
// so callers only set what needs changing.
type UserUpdateDto struct {
	Name       *string `json:"name,omitempty" validate:"omitnil,min=1"`
	Email      *string `json:"email,omitempty" validate:"omitnil,min=1"`
	Department *string `json:"department,omitempty" validate:"omitnil,min=1"`
	Role       *string `json:"role,omitempty" validate:"omitnil,min=1"`
	Active     *bool   `json:"active,omitempty"`
}

// Apply returns u with every non-nil field of d copied over it.
// u itself is not modified.
func (d UserUpdateDto) Apply(u User) User {
	if d.Name != nil {
		u.Name = *d.Name
	}
	if d.Email != nil {
		u.Email = *d.Email
	}
	if d.Department != nil {
		u.Department = *d.Department
	}
	if d.Role != nil {
		u.Role = *d.Role
	}
	if d.Active != nil {
		u.Active = *d.Active
	}
	return u
}

// UserQueryDto is a search filter. Nil fields (and empty strings) are not
// applied.
type UserQueryDto struct {
	Department *string `json:"department,omitempty"`
	Role       *string `json:"role,omitempty"`
	Active     *bool   `json:"active,omitempty"`
	Limit      *int    `json:"limit,omitempty" validate:"omitnil,min=0"`
	Offset     *int    `json:"offset,omitempty" validate:"omitnil,min=0"`
}

// ColumnInfo describes one column of a table as reported by the catalog.
type ColumnInfo struct {
	Name     string `json:"name"`
	TypeName string `json:"typeName"`
	Nullable bool   `json:"nullable"`
}
