// Package logging builds the process logger and gives library packages a
// safe default when callers pass none.
package logging

import (
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config configures handling of application log events.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json, color
}

// New returns a logger writing to w with the configured level and format.
func New(w io.Writer, cfg Config) (*log.Logger, error) {
	l := log.New()
	l.SetOutput(w)

	switch cfg.Format {
	case "", "text":
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	case "color":
		l.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unrecognized log format %q", cfg.Format)
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unrecognized log level: %w", err)
	}
	l.SetLevel(lvl)
	return l, nil
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l log.FieldLogger) log.FieldLogger {
	if l != nil {
		return l
	}
	d := log.New()
	d.SetOutput(io.Discard)
	return d
}

// Since renders an elapsed duration truncated to milliseconds for the
// "duration" log field.
func Since(start time.Time) string {
	return time.Since(start).Truncate(time.Millisecond).String()
}
