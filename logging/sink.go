package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record is one log entry as handed to sinks
type Record struct {
	ID      uint64
	Time    time.Time
	Level   string
	Message string
	Attrs   []slog.Attr
}

// Sink persists records. Write is only called from the sink's own writer
// goroutine, so implementations need no locking of their own.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// SinkFactory builds a sink from its decoded options
type SinkFactory func(opts SinkOptions) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]SinkFactory{
		"console": newConsoleSink,
		"file":    newFileSink,
	}
)

// RegisterSink makes a sink type available to every logger. Type names are
// case-insensitive.
func RegisterSink(typ string, factory SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(typ)] = factory
}

func lookupFactory(typ string) (SinkFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(typ)]
	return f, ok
}

// handlerSink writes records through a slog handler
type handlerSink struct {
	handler slog.Handler
	silent  bool
	closer  io.Closer
}

func newHandlerSink(w io.Writer, format string, silent bool, closer io.Closer) (*handlerSink, error) {
	opts := &slog.HandlerOptions{
		Level: slog.Level(-1 << 10),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// drop the built-in level; records carry their own as a string
			if _, ok := a.Value.Any().(slog.Level); ok && len(groups) == 0 && a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return &handlerSink{handler: h, silent: silent, closer: closer}, nil
}

func (s *handlerSink) Write(ctx context.Context, rec Record) error {
	if s.silent {
		return nil
	}
	r := slog.NewRecord(rec.Time, slog.LevelInfo, rec.Message, 0)
	r.AddAttrs(slog.String("level", rec.Level))
	r.AddAttrs(rec.Attrs...)
	return s.handler.Handle(ctx, r)
}

func (s *handlerSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func newConsoleSink(opts SinkOptions) (Sink, error) {
	var w io.Writer
	switch strings.ToLower(opts.Stream) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		return nil, fmt.Errorf("unknown stream %q", opts.Stream)
	}
	return newHandlerSink(w, opts.Format, opts.Silent, nil)
}

func newFileSink(opts SinkOptions) (Sink, error) {
	if opts.Filename == "" {
		return nil, fmt.Errorf("file transport requires filename")
	}

	filename, err := ResolveFilename(opts.Path, opts.Filename)
	if err != nil {
		return nil, err
	}
	if opts.Silent {
		return newHandlerSink(io.Discard, opts.Format, true, nil)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newHandlerSink(f, opts.Format, false, f)
}

// ResolveFilename joins a file sink name to the log directory (./log when
// empty) and makes it absolute.
func ResolveFilename(dir, filename string) (string, error) {
	if dir == "" {
		dir = "./log"
	}
	return filepath.Abs(filepath.Join(dir, filename))
}
