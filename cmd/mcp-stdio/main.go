// Command mcp-stdio bridges an MCP client speaking JSON-RPC on stdin/stdout
// to the HTTP tool server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Skryldev/mcp-user-tools/config"
	"github.com/Skryldev/mcp-user-tools/mcp/stdio"
	"github.com/Skryldev/mcp-user-tools/observability"
)

func main() {
	cfg, err := config.LoadStdio()
	if err != nil {
		fatalf("loading config: %v", err)
	}

	// stdout carries the protocol; diagnostics go to stderr or a file.
	logger, closer := observability.NewLogger(cfg.Log, os.Stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := stdio.NewBridge(cfg.ServerURL,
		stdio.WithCallTimeout(cfg.CallTimeout),
		stdio.WithLogger(logger),
	)

	stopServer, err := bridge.EnsureServer(ctx, cfg.ServerCommand, cfg.StartupTimeout)
	if err != nil {
		// an error object without id, the only reply a client can get here
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32603, "message": err.Error()},
		})
		fatalf("%v", err)
	}
	defer stopServer()

	if err := bridge.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		slog.Error("stdio bridge stopped", "error", err)
	}
}

func fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
