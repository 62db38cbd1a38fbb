package gologger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	base = newBase()
)

func newBase() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || os.Getenv("LOG_LEVEL") == "" {
		level = zerolog.DebugLevel
	}

	var l zerolog.Logger
	if os.Getenv("PRETTY") == "1" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stdout)
	}

	l = l.Level(level).With().Timestamp().Caller().Logger()

	// Anything pulled off a context without a logger falls back to this one
	zerolog.DefaultContextLogger = &l

	return l
}

// NewLogger returns a copy of the process logger. Keep one per package.
func NewLogger() zerolog.Logger {
	return base.With().Logger()
}

// Ctx attaches a fresh child logger to the context so later UpdateContext calls stay
// scoped to that request.
func Ctx(ctx context.Context) context.Context {
	l := base.With().Logger()
	return l.WithContext(ctx)
}
