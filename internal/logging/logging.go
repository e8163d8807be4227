// Package logging holds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/natefinch/lumberjack"
)

// Options configures the default logger.
type Options struct {
	Level string
	JSON  bool

	// File, when set, receives a copy of every record and is rotated by size
	File       string
	MaxSizeMB  int
	MaxAgeDays int
}

var (
	def  atomic.Value
	sink atomic.Pointer[lumberjack.Logger]
)

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	def.Store(slog.New(slog.NewTextHandler(os.Stderr, cfg)))
}

// Configure replaces the default logger. A previously opened log file is
// closed.
func Configure(opts Options) {
	def.Store(New(os.Stderr, opts))
}

// New builds a logger writing to w and, if opts.File is set, to a rotating
// log file.
func New(w io.Writer, opts Options) *slog.Logger {
	if opts.File != "" {
		l := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSizeMB,  // megabytes
			MaxAge:   opts.MaxAgeDays, // days
		}
		if old := sink.Swap(l); old != nil {
			_ = old.Close()
		}
		w = io.MultiWriter(w, l)
	}

	cfg := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, cfg)
	} else {
		h = slog.NewTextHandler(w, cfg)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the default logger.
func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Close flushes and closes the log file, if any.
func Close() error {
	if l := sink.Swap(nil); l != nil {
		return l.Close()
	}
	return nil
}
