// Package logging wires a structured logiface logger backed by zerolog,
// attaching fields to events rather than interpolating them into a
// format string.
package logging

import (
	"os"

	"github.com/joeycumines/go-utilpkg/logiface"
	zlog "github.com/joeycumines/go-utilpkg/logiface/zerolog"
	"github.com/rs/zerolog"
)

// Logger is the concrete type handed to every component that logs.
type Logger = logiface.Logger[*zlog.Event]

// New builds a Logger writing JSON lines to the file w (os.Stderr in
// production).
func New(w *os.File, debug bool) *Logger {
	z := zerolog.New(w).With().Timestamp().Logger()
	if debug {
		z = z.Level(zerolog.DebugLevel)
	} else {
		z = z.Level(zerolog.InfoLevel)
	}
	return zlog.L.New(zlog.L.WithZerolog(z))
}
