package dupwalk

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogOptions describes logger construction parameters.
type LogOptions struct {
	Format string // "text" or "json"
	Level  string
	Output io.Writer
}

// NewLogger builds the slog logger every component receives.
func NewLogger(opts LogOptions) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLogLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text", "console":
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(handler), nil
}

// LevelForVerbosity maps the -v count onto slog level names
func LevelForVerbosity(verbose int) string {
	switch {
	case verbose >= 2:
		return "debug"
	case verbose == 1:
		return "info"
	default:
		return "warn"
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// discardLogger is used when a component is built without a logger
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
