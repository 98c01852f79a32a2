package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Skryldev/mcp-user-tools/db"
	"github.com/Skryldev/mcp-user-tools/mcp"
	"github.com/Skryldev/mcp-user-tools/repo"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixture
// ─────────────────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, opts ...mcp.Option) http.Handler {
	t.Helper()

	database, err := db.Open(db.Config{
		DSN:           filepath.Join(t.TempDir(), "users.db") + "?_busy_timeout=5000",
		DriverName:    "sqlite3",
		AutoBootstrap: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	srv, err := mcp.NewServer(repo.NewUserDataService(database), opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func call(t *testing.T, h http.Handler, tool, body string) (int, map[string]any) {
	t.Helper()
	return do(t, h, http.MethodPost, "/mcp/"+tool, body)
}

func mustSucceed(t *testing.T, h http.Handler, tool, body string) map[string]any {
	t.Helper()
	code, out := call(t, h, tool, body)
	if code != http.StatusOK || out["status"] != "success" || out["tool"] != tool {
		t.Fatalf("%s: code %d body %v", tool, code, out)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Discovery
// ─────────────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	code, out := do(t, h, http.MethodGet, "/mcp/health", "")
	if code != http.StatusOK || out["status"] != "UP" || out["service"] != "MCP Server RA2 JDBC" {
		t.Fatalf("code %d body %v", code, out)
	}
}

func TestTools(t *testing.T) {
	h := newTestServer(t)
	code, out := do(t, h, http.MethodGet, "/mcp/tools", "")
	if code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	tools, _ := out["tools"].([]any)
	if len(tools) != 13 || out["count"] != float64(13) {
		t.Fatalf("expected 13 tools, got %d (count %v)", len(tools), out["count"])
	}
	if out["server"] != "MCP Server - RA2 JDBC DAM" || out["version"] != "1.0.0" {
		t.Fatalf("unexpected server info %v %v", out["server"], out["version"])
	}
	first := tools[0].(map[string]any)
	if first["name"] != "test_connection" || first["description"] == "" {
		t.Fatalf("unexpected first tool %v", first)
	}
	if _, ok := first["inputSchema"]; ok {
		t.Fatal("input schema must not be advertised over HTTP")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp/create_user", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)
	mustSucceed(t, h, "find_all_users", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mcp_tool_invocations_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────────────────────

func TestTestConnection(t *testing.T) {
	h := newTestServer(t)
	out := mustSucceed(t, h, "test_connection", "{}")
	if msg, _ := out["result"].(string); !strings.Contains(msg, "SQLite") {
		t.Fatalf("unexpected result %v", out["result"])
	}
}

func TestCreateThenFind(t *testing.T) {
	h := newTestServer(t)
	out := mustSucceed(t, h, "create_user", `{"name":"A","email":"a@x","department":"IT","role":"dev"}`)
	created := out["result"].(map[string]any)
	if created["id"] == nil || created["active"] != true || created["createdAt"] == nil {
		t.Fatalf("unexpected created user %v", created)
	}

	out = mustSucceed(t, h, "find_user_by_id", `{"userId":`+jsonNumber(created["id"])+`}`)
	found := out["result"].(map[string]any)
	for _, k := range []string{"id", "name", "email", "department", "role", "active", "createdAt", "updatedAt"} {
		if found[k] != created[k] {
			t.Fatalf("%s: found %v, created %v", k, found[k], created[k])
		}
	}
}

func TestFindUserByID_Missing(t *testing.T) {
	h := newTestServer(t)
	out := mustSucceed(t, h, "find_user_by_id", `{"userId":999}`)
	if out["result"] != nil {
		t.Fatalf("expected null result, got %v", out["result"])
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	h := newTestServer(t)
	body := `{"name":"A","email":"a@x","department":"IT","role":"dev"}`
	mustSucceed(t, h, "create_user", body)

	code, out := call(t, h, "create_user", body)
	if code != http.StatusInternalServerError || out["status"] != "error" || out["tool"] != "create_user" {
		t.Fatalf("code %d body %v", code, out)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "email") {
		t.Fatalf("error should mention the email: %q", msg)
	}
}

func TestCreateUser_MissingField(t *testing.T) {
	h := newTestServer(t)
	code, out := call(t, h, "create_user", `{"name":"A","email":"a@x","department":"IT"}`)
	if code != http.StatusBadRequest || out["status"] != "error" {
		t.Fatalf("code %d body %v", code, out)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "role") {
		t.Fatalf("error should name the field: %q", msg)
	}
}

func TestMalformedJSON(t *testing.T) {
	h := newTestServer(t)
	code, out := call(t, h, "find_user_by_id", `{"userId":`)
	if code != http.StatusBadRequest || out["status"] != "error" {
		t.Fatalf("code %d body %v", code, out)
	}
}

func TestUpdateUser(t *testing.T) {
	h := newTestServer(t)
	created := mustSucceed(t, h, "create_user", `{"name":"A","email":"a@x","department":"IT","role":"dev"}`)["result"].(map[string]any)
	id := jsonNumber(created["id"])

	out := mustSucceed(t, h, "update_user", `{"userId":`+id+`,"role":"lead","active":false}`)
	updated := out["result"].(map[string]any)
	if updated["role"] != "lead" || updated["active"] != false || updated["name"] != "A" {
		t.Fatalf("unexpected update result %v", updated)
	}

	code, out := call(t, h, "update_user", `{"userId":4242,"role":"x"}`)
	if code != http.StatusInternalServerError || !strings.Contains(out["error"].(string), "4242") {
		t.Fatalf("code %d body %v", code, out)
	}
}

func TestDeleteUser(t *testing.T) {
	h := newTestServer(t)
	created := mustSucceed(t, h, "create_user", `{"name":"A","email":"a@x","department":"IT","role":"dev"}`)["result"].(map[string]any)
	id := jsonNumber(created["id"])

	if out := mustSucceed(t, h, "delete_user", `{"userId":`+id+`}`); out["result"] != true {
		t.Fatalf("expected true, got %v", out["result"])
	}
	if out := mustSucceed(t, h, "delete_user", `{"userId":`+id+`}`); out["result"] != false {
		t.Fatalf("expected false, got %v", out["result"])
	}
	if out := mustSucceed(t, h, "find_user_by_id", `{"userId":`+id+`}`); out["result"] != nil {
		t.Fatalf("user still present: %v", out["result"])
	}
}

func TestListingAndCount(t *testing.T) {
	h := newTestServer(t)
	mustSucceed(t, h, "batch_insert_users", `{"users":[
		{"name":"A","email":"a@x","department":"IT","role":"dev"},
		{"name":"B","email":"b@x","department":"IT","role":"dev","active":false},
		{"name":"C","email":"c@x","department":"HR","role":"mgr"}]}`)

	if out := mustSucceed(t, h, "find_all_users", ""); out["count"] != float64(3) {
		t.Fatalf("find_all count %v", out["count"])
	}
	if out := mustSucceed(t, h, "find_users_by_department", `{"department":"IT"}`); out["count"] != float64(1) {
		t.Fatalf("by department count %v", out["count"])
	}
	out := mustSucceed(t, h, "execute_count_by_department", `{"department":"IT"}`)
	if out["result"] != float64(1) || out["department"] != "IT" {
		t.Fatalf("count result %v", out)
	}
	out = mustSucceed(t, h, "search_users", `{"department":"IT","limit":1}`)
	if out["count"] != float64(1) {
		t.Fatalf("search count %v", out["count"])
	}
}

func TestSearchUsers_NegativeLimit(t *testing.T) {
	h := newTestServer(t)
	code, _ := call(t, h, "search_users", `{"limit":-1}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestTransferData(t *testing.T) {
	h := newTestServer(t)
	out := mustSucceed(t, h, "transfer_data", `{"users":[
		{"name":"A","email":"a@x","department":"IT","role":"dev"},
		{"name":"B","email":"b@x","department":"IT","role":"dev"}]}`)
	if out["result"] != true || out["inserted_count"] != float64(2) {
		t.Fatalf("unexpected transfer result %v", out)
	}
}

func TestTransferData_RollsBack(t *testing.T) {
	h := newTestServer(t)
	mustSucceed(t, h, "create_user", `{"name":"Old","email":"taken@x","department":"IT","role":"dev"}`)

	code, out := call(t, h, "transfer_data", `{"users":[
		{"name":"A","email":"a@x","department":"IT","role":"dev"},
		{"name":"B","email":"taken@x","department":"IT","role":"dev"}]}`)
	if code != http.StatusInternalServerError || out["status"] != "error" {
		t.Fatalf("code %d body %v", code, out)
	}

	all := mustSucceed(t, h, "find_all_users", "{}")
	if all["count"] != float64(1) {
		t.Fatalf("transaction not rolled back: %v users", all["count"])
	}
	if u := all["result"].([]any)[0].(map[string]any); u["name"] != "Old" {
		t.Fatalf("unexpected survivor %v", u)
	}
}

func TestTransferData_CompletesAfterClientCancel(t *testing.T) {
	h := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/mcp/transfer_data", strings.NewReader(`{"users":[
		{"name":"A","email":"a@x","department":"IT","role":"dev"},
		{"name":"B","email":"b@x","department":"IT","role":"dev"}]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d body %s", rec.Code, rec.Body.String())
	}

	if all := mustSucceed(t, h, "find_all_users", "{}"); all["count"] != float64(2) {
		t.Fatalf("transfer not committed: %v users", all["count"])
	}
}

func TestRequestTimeout(t *testing.T) {
	h := newTestServer(t, mcp.WithRequestTimeout(time.Nanosecond))
	code, out := call(t, h, "find_all_users", "{}")
	if code != http.StatusInternalServerError || out["status"] != "error" {
		t.Fatalf("code %d body %v", code, out)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "timeout") {
		t.Fatalf("error should report the timeout: %q", msg)
	}
}

func TestBatchInsertUsers(t *testing.T) {
	h := newTestServer(t)
	if out := mustSucceed(t, h, "batch_insert_users", `{"users":[]}`); out["result"] != float64(0) {
		t.Fatalf("expected 0, got %v", out["result"])
	}
	out := mustSucceed(t, h, "batch_insert_users", `{"users":[
		{"name":"A","email":"a@x","department":"IT","role":"dev"},
		{"name":"B","email":"b@x","department":"IT","role":"dev"}]}`)
	if out["result"] != float64(2) {
		t.Fatalf("expected 2, got %v", out["result"])
	}
}

func TestDatabaseInfoAndColumns(t *testing.T) {
	h := newTestServer(t)
	out := mustSucceed(t, h, "get_database_info", "{}")
	if info, _ := out["result"].(string); !strings.Contains(info, "Supports transactions") {
		t.Fatalf("unexpected info %q", info)
	}

	out = mustSucceed(t, h, "get_table_columns", `{"tableName":"users"}`)
	if out["column_count"] != float64(8) {
		t.Fatalf("expected 8 columns, got %v", out["column_count"])
	}
	cols := out["result"].([]any)
	first := cols[0].(map[string]any)
	if first["name"] != "id" || first["typeName"] == "" {
		t.Fatalf("unexpected first column %v", first)
	}

	code, _ := call(t, h, "get_table_columns", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing table name, got %d", code)
	}
}

func TestRegistryIsCopy(t *testing.T) {
	r := mcp.NewRegistry()
	tools := r.Tools()
	tools[0].Name = "changed"
	if got, _ := r.Lookup("test_connection"); got.Name != "test_connection" {
		t.Fatal("registry mutated through Tools()")
	}
	if r.Tools()[0].Name != "test_connection" {
		t.Fatal("registry order changed")
	}
	create, ok := r.Lookup("create_user")
	if !ok || len(create.InputSchema().Required) != 4 {
		t.Fatalf("unexpected create_user schema %+v", create.InputSchema())
	}
}

func jsonNumber(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
