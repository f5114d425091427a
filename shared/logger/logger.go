package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console (alias text)
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only

	// Service and Version are stamped on every record when set
	Service string
	Version string

	writer io.Writer // overrides Output in tests
}

// Logger wraps slog.Logger and owns the log file, if any
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	writer, closer, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	level := parseLevel(config.Level)

	var handler slog.Handler
	switch config.Format {
	case "console", "text", "":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  config.EnableSource,
			TimeFormat: timeFormat,
			NoColor:    closer != nil, // no escape codes in log files
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:     level,
			AddSource: config.EnableSource,
		})
	}

	if config.Service != "" {
		attrs := []slog.Attr{slog.String("service", config.Service)}
		if config.Version != "" {
			attrs = append(attrs, slog.String("version", config.Version))
		}
		handler = handler.WithAttrs(attrs)
	}

	return &Logger{Logger: slog.New(handler), closer: closer}, nil
}

func openOutput(config *Config) (io.Writer, io.Closer, error) {
	switch {
	case config.writer != nil:
		return config.writer, nil, nil
	case config.Output == "stderr":
		return os.Stderr, nil, nil
	case config.Output == "stdout", config.Output == "":
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.Output), 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Component returns a child logger tagged with the subsystem name
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

func parseLevel(level string) slog.Level {
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
