package logging

import (
	"context"
	"log/slog"
)

// Slog returns a *slog.Logger writing through the sinks. slog levels map to
// the level names debug, info, warn and error; names missing from the level
// table are disabled.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&handler{logger: l})
}

type handler struct {
	logger *Logger
	attrs  []slog.Attr
	group  string
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Eligible(levelName(level)) > 0
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	args := make([]any, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		args = append(args, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, h.qualify(a))
		return true
	})
	err := h.logger.Log(levelName(r.Level), r.Message, args...)
	if err == ErrClosed {
		return nil
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &handler{logger: h.logger, group: h.group}
	out.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	out.attrs = append(out.attrs, h.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, h.qualify(a))
	}
	return out
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{logger: h.logger, attrs: h.attrs, group: group}
}

func (h *handler) qualify(a slog.Attr) slog.Attr {
	if h.group == "" {
		return a
	}
	a.Key = h.group + "." + a.Key
	return a
}
