// Package server provides the HTTP server lifecycle: middleware mounts
// deferred until start, plain or TLS listeners, and graceful close.
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/pkg/security"
	"github.com/c360/specgate/pkg/tlsutil"
)

// State is the lifecycle state of a Server
type State int

// Lifecycle states. A server only moves forward; stopped is terminal.
const (
	StateConfiguring State = iota
	StateStarting
	StateListening
	StateStopping
	StateStopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConfiguring is returned by deferred mounts after Start
	ErrNotConfiguring = stderrors.New("server is no longer configuring")
	// ErrNotRunning is returned by Close on a server that is not listening
	ErrNotRunning = stderrors.New("server not running")
)

// IsNotRunning reports whether err comes from closing a server that was not
// listening. Shutdown sequences treat it as a no-op.
func IsNotRunning(err error) bool {
	return stderrors.Is(err, ErrNotRunning)
}

// Options configures Start
type Options struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port" yaml:"port"`
	// Secure terminates TLS when enabled with cert and key files
	Secure security.ServerTLSConfig `json:"secure,omitempty" yaml:"secure,omitempty"`

	ReadHeaderTimeout time.Duration `json:"read_header_timeout,omitempty" yaml:"read_header_timeout,omitempty"`
	IdleTimeout       time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// Handle describes a listening server
type Handle struct {
	Addr   net.Addr
	Port   int
	Secure bool
}

// URL returns the base URL of the listener
func (h *Handle) URL() string {
	scheme := "http"
	if h.Secure {
		scheme = "https"
	}
	return scheme + "://" + h.Addr.String()
}

type deferred struct {
	mw     Middleware
	eh     ErrorHandler
	target *Pipeline
}

// Server is an HTTP server whose root pipeline is assembled before the
// socket opens. Deferred mounts queue up while configuring and are applied
// in FIFO order by Start, after every direct registration.
type Server struct {
	logger *slog.Logger
	root   *Pipeline

	mu       sync.Mutex
	state    State
	queue    []deferred
	http     *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a server in the configuring state
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With("component", "server"),
		root:   NewPipeline(),
	}
}

// Root returns the root pipeline
func (s *Server) Root() *Pipeline {
	return s.root
}

// Use appends middleware to the root pipeline immediately
func (s *Server) Use(mw ...Middleware) {
	s.root.Use(mw...)
}

// Mount appends middleware under path on the root pipeline immediately
func (s *Server) Mount(path string, mw Middleware) {
	s.root.Mount(path, mw)
}

// State returns the lifecycle state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeferMount queues mw for target (the root pipeline when nil) until Start
func (s *Server) DeferMount(mw Middleware, target *Pipeline) error {
	return s.enqueue(deferred{mw: mw, target: target})
}

// DeferErrorMount queues the error stage h for target (the root pipeline when nil) until Start
func (s *Server) DeferErrorMount(h ErrorHandler, target *Pipeline) error {
	return s.enqueue(deferred{eh: h, target: target})
}

func (s *Server) enqueue(d deferred) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConfiguring {
		return errors.WrapInvalid(ErrNotConfiguring, "Server", "DeferMount", "queue deferred mount")
	}
	s.queue = append(s.queue, d)
	return nil
}

// Pending returns the number of queued deferred mounts
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Server) flush() {
	for _, d := range s.queue {
		target := d.target
		if target == nil {
			target = s.root
		}
		if d.mw != nil {
			target.Use(d.mw)
		} else {
			target.UseError(d.eh)
		}
	}
	s.queue = nil
}

// Start applies the deferred mounts, binds the port and serves in the
// background. A failed start leaves the server stopped.
func (s *Server) Start(ctx context.Context, opts Options) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConfiguring {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "check state")
	}
	s.state = StateStarting
	s.flush()

	tlsConfig, err := tlsutil.LoadServerTLSConfig(opts.Secure)
	if err != nil {
		s.state = StateStopped
		return nil, errors.WrapFatal(err, "Server", "Start", "load certificates")
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.state = StateStopped
		return nil, errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", addr))
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	readHeaderTimeout := opts.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}

	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.listener = ln
	s.done = make(chan struct{})
	s.state = StateListening

	go s.serve(s.http, ln, s.done)

	handle := &Handle{Addr: ln.Addr(), Secure: tlsConfig != nil}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		handle.Port = tcp.Port
	}

	s.logger.Info("Server listening", "addr", handle.Addr.String(), "secure", handle.Secure)
	return handle, nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Server stopped unexpectedly", "error", err)
	}
}

// Close stops accepting connections and waits for in-flight requests until
// ctx is done, then forces the remaining connections closed. Closing a
// server that is not listening returns an error wrapping ErrNotRunning.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return fmt.Errorf("Server.Close: %w", ErrNotRunning)
	}
	s.state = StateStopping
	srv, done := s.http, s.done
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("Server stopped")

	if err != nil {
		return errors.WrapTransient(err, "Server", "Close", "drain connections")
	}
	return nil
}

// ServeHTTP runs the root pipeline. Requests nothing answered get a 404
// envelope and errors that escaped every error stage a 500 envelope.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := Wrap(w)
	err := s.root.serve(rw, r, HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		if !WrittenOf(w) {
			WriteError(w, errors.NotFound())
		}
		return nil
	}))
	if err != nil {
		err = Unwrap(err)
		s.logger.Error("Unhandled request error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeFallback(rw, err)
	}
}
