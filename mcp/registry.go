// Package mcp exposes the user data operations as discoverable tools over HTTP.
package mcp

// ToolDescriptor is the public description of one tool.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// inputSchema is the JSON schema of the tool arguments. It is only
	// served to stdio clients, never on /mcp/tools.
	inputSchema InputSchema
}

// InputSchema is the JSON schema object advertised to stdio clients.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property describes one tool argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// InputSchema returns the argument schema of the tool.
func (t ToolDescriptor) InputSchema() InputSchema {
	props := make(map[string]Property, len(t.inputSchema.Properties))
	for k, v := range t.inputSchema.Properties {
		props[k] = v
	}
	return InputSchema{
		Type:       "object",
		Properties: props,
		Required:   append([]string{}, t.inputSchema.Required...),
	}
}

// Registry is the immutable, ordered tool catalog.
type Registry struct {
	tools []ToolDescriptor
	index map[string]int
}

// Tools returns the catalog in registration order. The slice is a copy.
func (r *Registry) Tools() []ToolDescriptor {
	return append([]ToolDescriptor(nil), r.tools...)
}

// Lookup returns the tool named name.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return r.tools[i], true
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.tools) }

// Tool names.
const (
	ToolTestConnection           = "test_connection"
	ToolCreateUser               = "create_user"
	ToolFindUserByID             = "find_user_by_id"
	ToolUpdateUser               = "update_user"
	ToolDeleteUser               = "delete_user"
	ToolFindAllUsers             = "find_all_users"
	ToolFindUsersByDepartment    = "find_users_by_department"
	ToolSearchUsers              = "search_users"
	ToolTransferData             = "transfer_data"
	ToolBatchInsertUsers         = "batch_insert_users"
	ToolGetDatabaseInfo          = "get_database_info"
	ToolGetTableColumns          = "get_table_columns"
	ToolExecuteCountByDepartment = "execute_count_by_department"
)

var (
	propUserID     = Property{Type: "number", Description: "User id"}
	propName       = Property{Type: "string", Description: "Full name"}
	propEmail      = Property{Type: "string", Description: "Email address, unique"}
	propDepartment = Property{Type: "string", Description: "Department"}
	propRole       = Property{Type: "string", Description: "Role"}
	propActive     = Property{Type: "boolean", Description: "Whether the user is active"}
	propUsers      = Property{Type: "array", Description: "Users to insert: objects with name, email, department, role and optional active"}
)

func schema(required []string, props map[string]Property) InputSchema {
	if props == nil {
		props = map[string]Property{}
	}
	if required == nil {
		required = []string{}
	}
	return InputSchema{Type: "object", Properties: props, Required: required}
}

// NewRegistry returns the catalog of user tools.
func NewRegistry() *Registry {
	tools := []ToolDescriptor{
		{
			Name:        ToolTestConnection,
			Description: "Tests the database connection and reports product, version and database name",
			inputSchema: schema(nil, nil),
		},
		{
			Name:        ToolCreateUser,
			Description: "Creates an active user and returns it with its generated id",
			inputSchema: schema([]string{"name", "email", "department", "role"}, map[string]Property{
				"name": propName, "email": propEmail, "department": propDepartment, "role": propRole,
			}),
		},
		{
			Name:        ToolFindUserByID,
			Description: "Finds a user by id; the result is null when there is none",
			inputSchema: schema([]string{"userId"}, map[string]Property{"userId": propUserID}),
		},
		{
			Name:        ToolUpdateUser,
			Description: "Updates the given fields of an existing user",
			inputSchema: schema([]string{"userId"}, map[string]Property{
				"userId": propUserID, "name": propName, "email": propEmail,
				"department": propDepartment, "role": propRole, "active": propActive,
			}),
		},
		{
			Name:        ToolDeleteUser,
			Description: "Deletes a user by id and reports whether a row was removed",
			inputSchema: schema([]string{"userId"}, map[string]Property{"userId": propUserID}),
		},
		{
			Name:        ToolFindAllUsers,
			Description: "Lists every user, newest first",
			inputSchema: schema(nil, nil),
		},
		{
			Name:        ToolFindUsersByDepartment,
			Description: "Lists the active users of a department",
			inputSchema: schema([]string{"department"}, map[string]Property{"department": propDepartment}),
		},
		{
			Name:        ToolSearchUsers,
			Description: "Searches users by optional department, role and active filters with limit and offset",
			inputSchema: schema(nil, map[string]Property{
				"department": propDepartment, "role": propRole, "active": propActive,
				"limit":  {Type: "number", Description: "Maximum number of rows"},
				"offset": {Type: "number", Description: "Rows to skip"},
			}),
		},
		{
			Name:        ToolTransferData,
			Description: "Inserts several users in a single transaction; all or none are stored",
			inputSchema: schema([]string{"users"}, map[string]Property{"users": propUsers}),
		},
		{
			Name:        ToolBatchInsertUsers,
			Description: "Inserts several users as a batch and returns the number of inserted rows",
			inputSchema: schema([]string{"users"}, map[string]Property{"users": propUsers}),
		},
		{
			Name:        ToolGetDatabaseInfo,
			Description: "Reports database product, driver, URL and capabilities",
			inputSchema: schema(nil, nil),
		},
		{
			Name:        ToolGetTableColumns,
			Description: "Lists the columns of a table with type and nullability",
			inputSchema: schema([]string{"tableName"}, map[string]Property{
				"tableName": {Type: "string", Description: "Table name"},
			}),
		},
		{
			Name:        ToolExecuteCountByDepartment,
			Description: "Counts the active users of a department",
			inputSchema: schema([]string{"department"}, map[string]Property{"department": propDepartment}),
		},
	}

	index := make(map[string]int, len(tools))
	for i, t := range tools {
		index[t.Name] = i
	}
	return &Registry{tools: tools, index: index}
}
