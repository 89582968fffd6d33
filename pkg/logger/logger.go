// Package logger wraps zerolog with the process-wide logging setup used by agentcore.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level"`    // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" yaml:"format"` // console, json
	File   string `json:"file" mapstructure:"file" yaml:"file"`       // optional log file path
}

var (
	mu      sync.RWMutex
	root    = zerolog.New(os.Stderr).With().Timestamp().Logger()
	logFile *os.File
)

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger. It is safe to call more than once; a
// previously opened log file is closed first.
func Init(cfg LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var out io.Writer = os.Stderr
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		logFile = f
		out = io.MultiWriter(out, f)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	root = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(w).With().Timestamp().Logger()
}

// Get returns the global logger.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := root
	return &l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func Debug() *zerolog.Event { return Get().Debug() }
func Info() *zerolog.Event { return Get().Info() }
func Warn() *zerolog.Event { return Get().Warn() }
func Error() *zerolog.Event { return Get().Error() }

func Debugf(format string, args ...any) { Get().Debug().Msgf(format, args...) }
func Infof(format string, args ...any) { Get().Info().Msgf(format, args...) }
func Warnf(format string, args ...any) { Get().Warn().Msgf(format, args...) }
func Errorf(format string, args ...any) { Get().Error().Msgf(format, args...) }
