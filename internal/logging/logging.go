// Package logging builds the process logger: JSON lines to a rotating file,
// plus stderr when verbose.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nhle/taskcache/internal/model"
)

// Default rotation limits.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 28
)

// DefaultPath returns ~/.local/state/taskcache/taskcache.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "taskcache.log")
	}
	return filepath.Join(home, ".local", "state", "taskcache", "taskcache.log")
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty means
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to the rotating file cfg describes. When
// verbose is set records are also written to stderr, as text on a terminal
// and JSON otherwise. The returned closer flushes the file.
func New(cfg model.LogConfig, verbose bool) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, DefaultMaxAgeDays),
	}

	options := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewJSONHandler(file, options)}
	if verbose {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, options))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, options))
		}
	}

	return slog.New(fanout(handlers)), file, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
