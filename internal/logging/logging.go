// Package logging builds the component loggers used across sticky.
//
// Every component logs through a stdlib *log.Logger with a "[component] "
// prefix. An Output decides where those lines go: stderr, nowhere, or a
// size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures an Output.
type Options struct {
	// File, when set, receives log lines instead of stderr. It is rotated
	// once it grows past MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet discards everything.
	Quiet bool

	// Stderr overrides os.Stderr (tests).
	Stderr io.Writer
}

// Output is a shared log destination. Loggers from the same Output write to
// the same rotated file.
type Output struct {
	w      io.Writer
	closer io.Closer
}

// Open creates the destination described by opts.
func Open(opts Options) *Output {
	switch {
	case opts.Quiet:
		return &Output{w: io.Discard}
	case opts.File != "":
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		return &Output{w: lj, closer: lj}
	}
	if opts.Stderr != nil {
		return &Output{w: opts.Stderr}
	}
	return &Output{w: os.Stderr}
}

// Logger returns a logger for component.
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Writer exposes the destination.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// New is shorthand for Open(opts).Logger(component) when a single logger
// owns the destination.
func New(component string, opts Options) *log.Logger {
	return Open(opts).Logger(component)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
