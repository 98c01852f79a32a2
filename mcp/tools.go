package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/Skryldev/mcp-user-tools/apperr"
	"github.com/Skryldev/mcp-user-tools/models"
	"github.com/Skryldev/mcp-user-tools/observability"
)

// toolFunc runs one tool. extras are merged into the success envelope.
type toolFunc func(ctx context.Context, r *http.Request) (result any, extras map[string]any, err error)

// ─────────────────────────────────────────────────────────────────────────────
// Request bodies
// ─────────────────────────────────────────────────────────────────────────────

type userIDRequest struct {
	UserID *int64 `json:"userId" validate:"required"`
}

type updateUserRequest struct {
	UserID *int64 `json:"userId" validate:"required"`
	models.UserUpdateDto
}

type departmentRequest struct {
	Department *string `json:"department" validate:"required"`
}

type tableRequest struct {
	TableName string `json:"tableName" validate:"required"`
}

type userInput struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required"`
	Department string `json:"department" validate:"required"`
	Role       string `json:"role" validate:"required"`
	// Active defaults to true.
	Active *bool `json:"active"`
}

type usersRequest struct {
	Users []userInput `json:"users" validate:"required,dive"`
}

func (req usersRequest) toUsers() []models.User {
	users := make([]models.User, len(req.Users))
	for i, in := range req.Users {
		active := true
		if in.Active != nil {
			active = *in.Active
		}
		users[i] = models.User{
			Name:       in.Name,
			Email:      in.Email,
			Department: in.Department,
			Role:       in.Role,
			Active:     active,
		}
	}
	return users
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatch
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) invoke(name string, fn toolFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// a disconnect must not abort work already handed to the database
		ctx := context.WithoutCancel(r.Context())
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		result, extras, err := fn(ctx, r)
		if err != nil {
			observability.ObserveTool(name, "error", time.Since(start))
			kind := apperr.KindOf(err)
			level := s.logger.Error
			if kind == apperr.BadRequest {
				level = s.logger.Warn
			}
			level("tool failed", "tool", name, "kind", string(kind), "error", err)
			s.failure(w, r, name, err)
			return
		}
		observability.ObserveTool(name, "success", time.Since(start))
		s.success(w, r, name, result, extras)
	}
}

func (s *Server) toolFuncs() map[string]toolFunc {
	return map[string]toolFunc{
		ToolTestConnection: func(ctx context.Context, _ *http.Request) (any, map[string]any, error) {
			msg, err := s.svc.TestConnection(ctx)
			return msg, nil, err
		},

		ToolCreateUser: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req models.UserCreateDto
			if err := s.bind(r, ToolCreateUser, &req); err != nil {
				return nil, nil, err
			}
			u, err := s.svc.CreateUser(ctx, req)
			return u, nil, err
		},

		ToolFindUserByID: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req userIDRequest
			if err := s.bind(r, ToolFindUserByID, &req); err != nil {
				return nil, nil, err
			}
			u, err := s.svc.FindUserByID(ctx, *req.UserID)
			return u, nil, err
		},

		ToolUpdateUser: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req updateUserRequest
			if err := s.bind(r, ToolUpdateUser, &req); err != nil {
				return nil, nil, err
			}
			u, err := s.svc.UpdateUser(ctx, *req.UserID, req.UserUpdateDto)
			return u, nil, err
		},

		ToolDeleteUser: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req userIDRequest
			if err := s.bind(r, ToolDeleteUser, &req); err != nil {
				return nil, nil, err
			}
			ok, err := s.svc.DeleteUser(ctx, *req.UserID)
			return ok, nil, err
		},

		ToolFindAllUsers: func(ctx context.Context, _ *http.Request) (any, map[string]any, error) {
			users, err := s.svc.FindAll(ctx)
			return users, map[string]any{"count": len(users)}, err
		},

		ToolFindUsersByDepartment: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req departmentRequest
			if err := s.bind(r, ToolFindUsersByDepartment, &req); err != nil {
				return nil, nil, err
			}
			users, err := s.svc.FindUsersByDepartment(ctx, *req.Department)
			return users, map[string]any{"count": len(users)}, err
		},

		ToolSearchUsers: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req models.UserQueryDto
			if err := s.bind(r, ToolSearchUsers, &req); err != nil {
				return nil, nil, err
			}
			users, err := s.svc.SearchUsers(ctx, req)
			return users, map[string]any{"count": len(users)}, err
		},

		ToolTransferData: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req usersRequest
			if err := s.bind(r, ToolTransferData, &req); err != nil {
				return nil, nil, err
			}
			users := req.toUsers()
			ok, err := s.svc.TransferData(ctx, users)
			return ok, map[string]any{"inserted_count": len(users)}, err
		},

		ToolBatchInsertUsers: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req usersRequest
			if err := s.bind(r, ToolBatchInsertUsers, &req); err != nil {
				return nil, nil, err
			}
			n, err := s.svc.BatchInsertUsers(ctx, req.toUsers())
			return n, nil, err
		},

		ToolGetDatabaseInfo: func(ctx context.Context, _ *http.Request) (any, map[string]any, error) {
			info, err := s.svc.GetDatabaseInfo(ctx)
			return info, nil, err
		},

		ToolGetTableColumns: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req tableRequest
			if err := s.bind(r, ToolGetTableColumns, &req); err != nil {
				return nil, nil, err
			}
			cols, err := s.svc.GetTableColumns(ctx, req.TableName)
			return cols, map[string]any{"column_count": len(cols)}, err
		},

		ToolExecuteCountByDepartment: func(ctx context.Context, r *http.Request) (any, map[string]any, error) {
			var req departmentRequest
			if err := s.bind(r, ToolExecuteCountByDepartment, &req); err != nil {
				return nil, nil, err
			}
			n, err := s.svc.ExecuteCountByDepartment(ctx, *req.Department)
			return n, map[string]any{"department": *req.Department}, err
		},
	}
}
