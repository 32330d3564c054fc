package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process logger. Format "console" is for interactive runs;
// anything else emits JSON lines.
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout
	if strings.ToLower(format) == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	return zerolog.New(output).Level(parsed).With().Timestamp().Logger()
}
