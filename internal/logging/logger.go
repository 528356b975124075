package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldbell/dex/settlement/internal/config"
)

// New builds the process logger for a dex service. Every record carries the
// service name; the returned closer releases the log file, if any.
func New(service string, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	w, closer, err := openWriter(service, cfg)
	if err != nil {
		return nil, nil, err
	}

	handler, err := newHandler(w, cfg.Format, level)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return slog.New(handler).With("service", service), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (expected text|json)", format)
	}
}

func noopClose() error { return nil }

func openWriter(service string, cfg config.LogConfig) (io.Writer, func() error, error) {
	switch output := strings.ToLower(strings.TrimSpace(cfg.Output)); output {
	case "", "console":
		return os.Stdout, noopClose, nil
	case "stderr":
		return os.Stderr, noopClose, nil
	case "file", "both":
		file, err := openLogFile(service, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		if output == "both" {
			return io.MultiWriter(os.Stdout, file), file.Close, nil
		}
		return file, file.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid log output %q (expected console|stderr|file|both)", cfg.Output)
	}
}

func openLogFile(service, path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join(".docker", service, service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", raw)
	}
}
