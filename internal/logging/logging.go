// SPDX-License-Identifier: MIT

// Package logging binds the supervisor's leveled 1..9 trace model (spec
// §4.4) onto log/slog. Level 8 is the engine's own debug channel; SV_DEBUG
// forces it on regardless of the configured level, per spec §6.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// DebugLevel is the leveled value the engine binds its own trace output
// to (spec §4.4: "engine only ever logs at its bound debug level (8)").
const DebugLevel = 8

// Logger is a leveled 1..9 sink. Level increases with verbosity; a
// message is emitted only when level <= the configured threshold.
type Logger struct {
	slog      *slog.Logger
	threshold int
}

// Options configures New.
type Options struct {
	// Level is the configured threshold (1..9). Messages above it are
	// dropped before ever reaching slog.
	Level int
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Forced, when true, overrides Level with DebugLevel (SV_DEBUG).
	Forced bool
}

// New builds a Logger writing structured text records to opts.Writer
// (stderr by default), grounded on the teacher stream.Manager's
// logf/logError/logStructuredEvent trio but generalized to the full
// 1..9 leveled model spec §4.4 describes.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	threshold := opts.Level
	if threshold <= 0 {
		threshold = 5
	}
	if opts.Forced {
		threshold = DebugLevel
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{slog: slog.New(h), threshold: threshold}
}

func (l *Logger) enabled(level int) bool {
	return l != nil && level <= l.threshold
}

// Logf emits a plain message at level if the threshold allows it.
func (l *Logger) Logf(level int, format string, args ...any) {
	if !l.enabled(level) {
		return
	}
	l.slog.Info(sprintf(format, args...), "level", level)
}

// Debugf emits at DebugLevel, satisfying engine.Logger.
func (l *Logger) Debugf(format string, args ...any) {
	l.Logf(DebugLevel, format, args...)
}

// Errorf always emits (errors ignore the threshold), mirroring the
// teacher's logError.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.slog.Error(sprintf(format, args...))
}

// Event emits a structured, machine-parseable record for a named event
// plus key/value attribute pairs, mirroring the teacher's
// logStructuredEvent but keyed by service name instead of device name.
func (l *Logger) Event(level int, event, service string, attrs ...any) {
	if !l.enabled(level) {
		return
	}
	all := make([]any, 0, len(attrs)+4)
	all = append(all, "event", event, "service", service, "level", level)
	all = append(all, attrs...)
	l.slog.Info("service_event", all...)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
