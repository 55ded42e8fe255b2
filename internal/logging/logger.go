package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "dailybrief"

// New builds the process logger on stdout, or a console writer on stderr when
// environment is local.
func New(environment, level string) (zerolog.Logger, error) {
	return NewWithWriter(nil, environment, level)
}

// NewWithWriter is New with an explicit sink. A nil w picks the environment default.
func NewWithWriter(w io.Writer, environment, level string) (zerolog.Logger, error) {
	parsed, err := parseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = defaultWriter(environment)
	}
	return zerolog.New(w).
		Level(parsed).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger(), nil
}

// ForComponent tags every event with the pipeline stage that emitted it.
func ForComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

func parseLevel(level string) (zerolog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zerolog.InfoLevel, nil
	}
	parsed, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}
	return parsed, nil
}

func defaultWriter(environment string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stdout
}
