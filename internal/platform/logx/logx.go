// Package logx wraps zerolog into the package-level logger the rest of the
// core imports, matching the teacher's internal/shared/utils/log.go texture:
// short, emoji-prefixed lines at transition points, not a line per call.
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. It is built once at package initialisation
// from the ENV environment variable and read everywhere else — there is no hidden mutable global state beyond
// the logger itself, which zerolog treats as immutable after construction.
var L = New(os.Getenv("ENV"))

// New builds a zerolog.Logger tuned for local development (pretty console)
// or production (JSON lines) based on the given environment name.
func New(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(console).With().Timestamp().Logger()
}

// With returns a child logger tagged with a component name, so log lines
// read "component=dispatcher ✅ ...".
func With(component string) zerolog.Logger {
	return L.With().Str("component", component).Logger()
}
