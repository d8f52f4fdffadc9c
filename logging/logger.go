package logging

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/metric"
)

// ErrClosed is returned when logging through a closed Logger
var ErrClosed = stderrors.New("logger closed")

const defaultBuffer = 1024

// Notification reports that one sink finished persisting a record
type Notification struct {
	RecordID uint64
	Sink     string
	Level    string
	Err      error
}

// Option configures a Logger
type Option func(*Logger)

// WithMetrics counts persisted records per sink and level
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(l *Logger) {
		if registry != nil {
			l.metrics = registry.CoreMetrics()
		}
	}
}

type sinkWriter struct {
	name      string
	level     string
	threshold int
	sink      Sink
	queue     chan Record
}

// Logger is a leveled logger writing to several sinks. Every sink runs its
// own writer goroutine and reports each persisted record, which Confirm
// turns into a completion signal.
type Logger struct {
	levels     map[string]int
	sinks      []*sinkWriter
	middleware MiddlewareConfig
	metrics    *metric.Metrics

	nextID atomic.Uint64

	// mu guards closed and the sink queues against Close
	mu     sync.RWMutex
	closed bool

	subMu     sync.Mutex
	pending   map[uint64]*Completion
	listeners map[uint64]func(Notification)
	nextLis   uint64

	wg sync.WaitGroup
}

// New validates cfg, builds every sink and starts their writers
func New(cfg Config, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "logging", "New", "validate configuration")
	}

	levels := make(map[string]int, len(cfg.levels()))
	for k, v := range cfg.levels() {
		levels[k] = v
	}

	l := &Logger{
		levels:     levels,
		middleware: cfg.Middleware,
		pending:    make(map[uint64]*Completion),
		listeners:  make(map[uint64]func(Notification)),
	}
	for _, opt := range opts {
		opt(l)
	}

	for i, t := range cfg.Transports {
		sopts, _ := decodeOptions(t.Options)
		sopts.Path = cfg.Path
		level, _ := threshold(levels, t.Level, sopts.Level, cfg.Level)

		factory, _ := lookupFactory(t.Type)
		sink, err := factory(sopts)
		if err != nil {
			l.closeSinks()
			return nil, errors.WrapInvalid(err, "logging", "New", fmt.Sprintf("create %s transport", t.Type))
		}

		name := sopts.Name
		if name == "" {
			name = t.Type + "-" + strconv.Itoa(i)
		}
		buffer := sopts.Buffer
		if buffer <= 0 {
			buffer = defaultBuffer
		}

		l.sinks = append(l.sinks, &sinkWriter{
			name:      name,
			level:     level,
			threshold: levels[level],
			sink:      sink,
			queue:     make(chan Record, buffer),
		})
	}

	for _, sw := range l.sinks {
		l.wg.Add(1)
		go l.run(sw)
	}
	return l, nil
}

func (l *Logger) run(sw *sinkWriter) {
	defer l.wg.Done()
	for rec := range sw.queue {
		err := sw.sink.Write(context.Background(), rec)
		if l.metrics != nil {
			l.metrics.RecordLogPersisted(sw.name, rec.Level)
		}
		l.notify(Notification{RecordID: rec.ID, Sink: sw.name, Level: rec.Level, Err: err})
	}
}

func (l *Logger) notify(n Notification) {
	l.subMu.Lock()
	c := l.pending[n.RecordID]
	if c != nil && c.add(n) {
		delete(l.pending, n.RecordID)
	}
	listeners := make([]func(Notification), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.subMu.Unlock()

	for _, fn := range listeners {
		fn(n)
	}
}

// OnPersisted registers fn for every sink notification. The returned
// function removes it.
func (l *Logger) OnPersisted(fn func(Notification)) (remove func()) {
	l.subMu.Lock()
	id := l.nextLis
	l.nextLis++
	l.listeners[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.listeners, id)
		l.subMu.Unlock()
	}
}

// Levels returns a copy of the level table
func (l *Logger) Levels() map[string]int {
	out := make(map[string]int, len(l.levels))
	for k, v := range l.levels {
		out[k] = v
	}
	return out
}

// Eligible returns the number of sinks accepting level, or -1 for an unknown level
func (l *Logger) Eligible(level string) int {
	prio, ok := l.levels[level]
	if !ok {
		return -1
	}
	n := 0
	for _, sw := range l.sinks {
		if sw.threshold >= prio {
			n++
		}
	}
	return n
}

// Log emits a record without waiting for it
func (l *Logger) Log(level, msg string, args ...any) error {
	_, err := l.emit(level, msg, args, false)
	return err
}

// Confirm emits a record and returns a completion that is done once every
// sink accepting level has persisted it. With no eligible sink the
// completion is already done.
func (l *Logger) Confirm(level, msg string, args ...any) (*Completion, error) {
	return l.emit(level, msg, args, true)
}

func (l *Logger) emit(level, msg string, args []any, confirm bool) (*Completion, error) {
	prio, ok := l.levels[level]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLevel, level)
	}

	rec := Record{
		ID:      l.nextID.Add(1),
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Attrs:   attrsOf(args),
	}

	var targets []*sinkWriter
	for _, sw := range l.sinks {
		if sw.threshold >= prio {
			targets = append(targets, sw)
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	c := newCompletion(rec.ID, len(targets))
	if confirm && len(targets) > 0 {
		l.subMu.Lock()
		l.pending[rec.ID] = c
		l.subMu.Unlock()
	}

	for _, sw := range targets {
		sw.queue <- rec
	}
	return c, nil
}

// Close stops accepting records and waits for the sink queues to drain or
// ctx to end. Pending completions are released when their sinks drain.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, sw := range l.sinks {
		close(sw.queue)
	}
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Logger", "Close", "drain sinks")
	}
	return l.closeSinks()
}

func (l *Logger) closeSinks() error {
	var errs []error
	for _, sw := range l.sinks {
		if err := sw.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sw.name, err))
		}
	}
	return stderrors.Join(errs...)
}

func attrsOf(args []any) []slog.Attr {
	if len(args) == 0 {
		return nil
	}
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}
