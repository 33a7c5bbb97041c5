// Package log sets up the process-wide slog logger.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type Level = slog.Level

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

// Option is a logger option.
type Option func(*options)

type options struct {
	level Level
	json  bool
	w     io.Writer
}

// WithLevel sets the log level. The default is InfoLevel.
func WithLevel(level Level) Option {
	return func(o *options) { o.level = level }
}

// WithJSON switches to JSON output.
func WithJSON(json bool) Option {
	return func(o *options) { o.json = json }
}

// WithWriter sets the output. The default is stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.w = w }
}

// Init builds a logger, installs it as the slog default and returns it.
func Init(opts ...Option) *slog.Logger {
	o := &options{level: InfoLevel, w: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}
	hopts := &slog.HandlerOptions{
		AddSource: true,
		Level:     o.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// Keep only the file name of the source.
			if a.Key == slog.SourceKey {
				if s, ok := a.Value.Any().(*slog.Source); ok {
					s.File = filepath.Base(s.File)
				}
			}
			return a
		},
	}
	var h slog.Handler = slog.NewTextHandler(o.w, hopts)
	if o.json {
		h = slog.NewJSONHandler(o.w, hopts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func logf(level Level, format string, args ...any) {
	ctx := context.Background()
	logger := slog.Default()
	if !logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, logf, Infof]
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(ctx, r)
}

// Infof logs an info message.
func Infof(format string, args ...any) { logf(InfoLevel, format, args...) }

// Warnf logs a warning message.
func Warnf(format string, args ...any) { logf(WarnLevel, format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...any) { logf(ErrorLevel, format, args...) }

// Fatalf logs an error message and exits with status 1.
func Fatalf(format string, args ...any) {
	logf(ErrorLevel, format, args...)
	os.Exit(1)
}
