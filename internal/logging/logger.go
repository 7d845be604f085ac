// Package logging configures the process-wide zerolog logger for okpi.
// It supports leveled output, colored console rendering, caller information
// and an optional log file for persistent troubleshooting.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures the logger behavior.
type Config struct {
	Level      zerolog.Level // Minimum level to log
	FilePath   string        // Optional file path for persistent logs
	Colored    bool          // Enable colored console output
	ShowCaller bool          // Add file:line of caller
	Console    io.Writer     // Console destination (default os.Stderr)
	NoConsole  bool          // Log only to the file, e.g. while a TUI owns the terminal
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:   zerolog.InfoLevel,
		Colored: true,
	}
}

// VerboseConfig returns a configuration for verbose troubleshooting.
func VerboseConfig() *Config {
	return &Config{
		Level:      zerolog.DebugLevel,
		Colored:    true,
		ShowCaller: true,
	}
}

// New builds a logger from cfg. The returned closer releases the log file,
// if one was opened; it is never nil.
func New(cfg *Config) (zerolog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var writers []io.Writer

	if !cfg.NoConsole {
		out := cfg.Console
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    !cfg.Colored,
			TimeFormat: "2006-01-02 15:04:05.000",
		})
	}

	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		writers = append(writers, f)
		closer = f
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.Level).
		With().
		Timestamp()
	if cfg.ShowCaller {
		ctx = ctx.Caller()
	}

	return ctx.Logger(), closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetGlobal installs l as the zerolog global logger used by log.Info() etc.
func SetGlobal(l zerolog.Logger) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = l
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// SessionFile returns a timestamped log file path inside dir.
func SessionFile(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("okpi_%s.log", now.Format("2006-01-02_15-04-05")))
}

// ParseLevel parses a level name, defaulting to info for unknown values.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
