// Package observability wires logging, Prometheus metrics and OpenTelemetry
// tracing for the tool server.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Skryldev/mcp-user-tools/config"
)

// NewLogger builds the process logger. Output goes to a rotating file when
// cfg.File is set, otherwise to fallback (os.Stdout when nil). The returned
// closer releases the file and is a no-op otherwise.
func NewLogger(cfg config.Log, fallback io.Writer) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = fallback
		closer io.Closer = nopCloser{}
	)
	if out == nil {
		out = os.Stdout
	}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
