// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotated JSON log file alongside terminal output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Level maps the -v count to a slog level: 0=info, 1 and above=debug.
func Level(verbose int) slog.Level {
	switch {
	case verbose <= 0:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Setup installs the default logger: a text handler on stderr and, when
// file.Path is set, a JSON handler on a rotated log file. The returned
// function closes the log file.
func Setup(verbose int, file FileConfig) (func() error, error) {
	return setup(os.Stderr, verbose, file)
}

func setup(terminal io.Writer, verbose int, file FileConfig) (func() error, error) {
	level := Level(verbose)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(terminal, opts)

	closer := func() error { return nil }
	if file.Path != "" {
		writer, err := newRotatingWriter(file)
		if err != nil {
			return nil, err
		}
		handler = teeHandler{handler, slog.NewJSONHandler(writer, opts)}
		closer = writer.Close
	}

	slog.SetDefault(slog.New(handler))

	// Level 3 enables tracing in the sound server client as well
	if verbose >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
	return closer, nil
}

func newRotatingWriter(file FileConfig) (*lumberjack.Logger, error) {
	dir := filepath.Dir(file.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	w := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   file.Compress,
	}
	if file.MaxSizeMB > 0 {
		w.MaxSize = file.MaxSizeMB
	}
	if file.MaxBackups > 0 {
		w.MaxBackups = file.MaxBackups
	}
	if file.MaxAgeDays > 0 {
		w.MaxAge = file.MaxAgeDays
	}
	return w, nil
}

// teeHandler sends every record to each handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
