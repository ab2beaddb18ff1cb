package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
)

// Output formats accepted by LOG_FORMAT.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatECS     = "ecs"
)

// New builds the process logger. An empty format means console in
// development and JSON elsewhere.
func New(format, level, env string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stdout, format, level, env)
}

func NewWithWriter(w io.Writer, format, level, env string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	if format == "" {
		format = FormatJSON
		if env == "development" {
			format = FormatConsole
		}
	}

	var logger zerolog.Logger
	switch strings.ToLower(format) {
	case FormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	case FormatJSON:
		logger = zerolog.New(w).With().Timestamp().Logger()
	case FormatECS:
		logger = ecszerolog.New(w)
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return logger.Level(lvl).With().Str("service", "clinops").Logger(), nil
}
