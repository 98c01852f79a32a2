// Package stdio serves the MCP protocol on stdin/stdout and forwards tool
// calls to the HTTP tool server.
package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Skryldev/mcp-user-tools/mcp"
)

const bridgeName = "mcp-server-ra2-jdbc"

// Bridge exposes the tools of the HTTP server at baseURL,
// e.g. http://localhost:8082/mcp, to an MCP client on stdio.
type Bridge struct {
	baseURL     string
	client      *http.Client
	callTimeout time.Duration
	logger      *slog.Logger
	registry    *mcp.Registry
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.client = c }
}

// WithCallTimeout bounds each tools/call round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.callTimeout = d }
}

// WithLogger sets the diagnostics logger. It must not write to stdout.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge returns a Bridge for the server at baseURL.
func NewBridge(baseURL string, opts ...Option) *Bridge {
	b := &Bridge{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{},
		callTimeout: 60 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry:    mcp.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Serve speaks MCP on in/out until in is exhausted or ctx is done. The tool
// list is discovered from the HTTP server once, before the first request is
// read.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := b.NewMCPServer(ctx)
	transport := mcpserver.NewStdioServer(srv)
	transport.SetErrorLogger(slog.NewLogLogger(b.logger.Handler(), slog.LevelError))
	return transport.Listen(ctx, in, out)
}

// NewMCPServer builds the MCP server with one tool per tool the HTTP server
// advertises. When discovery fails the built-in catalog is used.
func (b *Bridge) NewMCPServer(ctx context.Context) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(bridgeName, mcp.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)

	tools, err := b.discoverTools(ctx)
	if err != nil {
		b.logger.Warn("tool discovery failed, using built-in catalog", "error", err)
		tools = b.registry.Tools()
	}
	for _, t := range tools {
		schema := t.InputSchema()
		if known, ok := b.registry.Lookup(t.Name); ok {
			schema = known.InputSchema()
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			b.logger.Error("encoding input schema", "tool", t.Name, "error", err)
			continue
		}
		srv.AddTool(mcpproto.NewToolWithRawSchema(t.Name, t.Description, raw), b.forward(t.Name))
	}
	b.logger.Info("tools registered", "count", len(tools))
	return srv
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP side
// ─────────────────────────────────────────────────────────────────────────────

func (b *Bridge) discoverTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing tools: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Tools []mcp.ToolDescriptor `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	return body.Tools, nil
}

// forward returns the handler for tool name. Tool failures are results with
// isError set, never protocol errors.
func (b *Bridge) forward(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcpproto.NewToolResultError("Error: invalid arguments: " + err.Error()), nil
		}
		text, err := b.post(ctx, name, args)
		if err != nil {
			b.logger.Warn("tool call failed", "tool", name, "error", err)
			return mcpproto.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcpproto.NewToolResultText(text), nil
	}
}

func (b *Bridge) post(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if trimmed := bytes.TrimSpace(args); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		args = json.RawMessage("{}")
	}

	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/"+name, bytes.NewReader(args))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode != http.StatusOK {
		var msg string
		if decodeErr == nil {
			_ = json.Unmarshal(envelope["error"], &msg)
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP error %d", resp.StatusCode)
		}
		return "", errors.New(msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decoding response: %w", decodeErr)
	}

	content, ok := envelope["result"]
	if !ok {
		whole, err := json.Marshal(envelope)
		if err != nil {
			return "", err
		}
		content = whole
	}
	return renderContent(content)
}

// renderContent returns strings verbatim and pretty-prints everything else.
func renderContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
