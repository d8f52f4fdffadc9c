package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/logging"
	"github.com/c360/specgate/metric"
	"github.com/c360/specgate/openapi"
	"github.com/c360/specgate/rpc"
	"github.com/c360/specgate/server"
)

// ErrInvalidArguments is returned by New for a namespace without a server
var ErrInvalidArguments = fmt.Errorf("invalid arguments")

// Option configures an API
type Option func(*API)

// WithRegistry sets the module registry used by Config
func WithRegistry(registry *Registry) Option {
	return func(a *API) {
		a.registry = registry
	}
}

// WithCaller sets the backend caller handed to modules
func WithCaller(caller rpc.Caller) Option {
	return func(a *API) {
		a.caller = caller
	}
}

// WithMetrics records request metrics on the surface
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(a *API) {
		a.metricsRegistry = registry
	}
}

// WithLogger sets the logger used until a configured logger exists
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Result is returned by Config once the surface is composed
type Result struct {
	Logger   *logging.Logger   // nil without a logger section
	Slog     *slog.Logger      // configured logger, or the API's default
	Document *openapi.Document // nil without a swagger section
}

// API composes a request surface on a server: header and CORS middleware,
// logging, document driven metadata and validation, and operation modules.
type API struct {
	srv       *server.Server
	namespace string
	surface   *server.Pipeline
	// target receives the deferred surface stages, nil for the server root
	target *server.Pipeline

	registry        *Registry
	caller          rpc.Caller
	metricsRegistry *metric.MetricsRegistry
	logger          *slog.Logger

	mu         sync.Mutex
	configured bool
	modules    []*Module
	result     *Result
}

// New creates an API. A nil server with an empty namespace creates a
// standalone API with its own server; a server with a namespace creates a
// sub-surface the caller mounts; a server without a namespace composes on
// its root pipeline.
func New(srv *server.Server, namespace string, opts ...Option) (*API, error) {
	a := &API{
		namespace: namespace,
		registry:  NewRegistry(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	switch {
	case srv == nil && namespace == "":
		a.srv = server.New(a.logger)
		a.surface = a.srv.Root()
	case srv != nil && namespace != "":
		a.srv = srv
		a.surface = server.NewPipeline()
		a.target = a.surface
	case srv != nil:
		a.srv = srv
		a.surface = srv.Root()
	default:
		return nil, errors.WrapInvalid(ErrInvalidArguments, "API", "New", "check server and namespace")
	}
	a.logger = a.logger.With("component", "api", "namespace", a.surfaceName())
	return a, nil
}

// Server returns the server the API composes on
func (a *API) Server() *server.Server {
	return a.srv
}

// Surface returns the surface pipeline. A namespaced surface must be
// mounted by the caller, usually at Config.MountPath.
func (a *API) Surface() *server.Pipeline {
	return a.surface
}

// Namespaced reports whether the surface has its own pipeline
func (a *API) Namespaced() bool {
	return a.target != nil
}

func (a *API) surfaceName() string {
	if a.namespace == "" {
		return "root"
	}
	return a.namespace
}

// Config composes the surface from cfg. It can run once per API.
func (a *API) Config(ctx context.Context, cfg Config) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.configured {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "API", "Config", "check configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "API", "Config", "check context")
	}

	res := &Result{Slog: a.logger}

	if a.metricsRegistry != nil {
		a.surface.Use(a.requestMetrics(a.metricsRegistry.CoreMetrics()))
	}
	if cfg.CacheControl != "" {
		a.surface.Use(header("Cache-Control", cfg.CacheControl))
	}
	if cfg.CORS != nil {
		a.surface.Use(CORS(*cfg.CORS))
	}

	if cfg.Logger != nil {
		var opts []logging.Option
		if a.metricsRegistry != nil {
			opts = append(opts, logging.WithMetrics(a.metricsRegistry))
		}
		l, err := logging.New(*cfg.Logger, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "API", "Config", "create logger")
		}
		res.Logger = l
		res.Slog = l.Slog().With("namespace", a.surfaceName())
		a.surface.Use(l.RequestLogger())
		if err := a.srv.DeferErrorMount(l.ErrorLogger(), a.target); err != nil {
			return nil, errors.Wrap(err, "API", "Config", "defer error logger")
		}
	}

	if cfg.RateLimit != nil {
		a.surface.Use(RateLimit(*cfg.RateLimit))
	}

	if cfg.Swagger != nil {
		doc, err := openapi.Load(cfg.Swagger.LoaderConfig)
		if err != nil {
			return nil, errors.Wrap(err, "API", "Config", "load swagger document")
		}
		res.Document = doc

		root := a.srv.Root()
		if !cfg.Swagger.SkipMetadata {
			root.Use(openapi.MetadataMiddleware(doc))
		}
		if cfg.Swagger.Validator != nil {
			root.Use(openapi.NewValidator(doc, *cfg.Swagger.Validator).Middleware())
		}
		if cfg.Swagger.UI != nil {
			a.surface.Use(openapi.Docs(doc, *cfg.Swagger.UI))
		}
	}

	if err := a.srv.DeferMount(notFound(), a.target); err != nil {
		return nil, errors.Wrap(err, "API", "Config", "defer not found handler")
	}
	if err := a.srv.DeferErrorMount(ErrorHandler(), nil); err != nil {
		return nil, errors.Wrap(err, "API", "Config", "defer error handler")
	}

	modules, err := a.load(cfg, res)
	if err != nil {
		return nil, err
	}
	a.modules = modules

	a.surface.Use(options())
	a.surface.Mount("/version", server.Terminal(version(cfg.MountPath)))

	a.configured = true
	a.result = res
	res.Slog.Info("api configured", "modules", len(modules), "document", res.Document != nil)
	return res, nil
}

func (a *API) load(cfg Config, res *Result) ([]*Module, error) {
	names := cfg.Routes
	if len(names) == 0 {
		names = a.registry.Names()
	}

	deps := Dependencies{
		Logger:          res.Slog,
		Caller:          a.caller,
		MetricsRegistry: a.metricsRegistry,
		Document:        res.Document,
		Fields:          cfg.Fields,
		MountPath:       cfg.MountPath,
		OAuth2:          cfg.OAuth2,
	}

	modules := make([]*Module, 0, len(names))
	for _, name := range names {
		reg, ok := a.registry.Lookup(name)
		if !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("unknown module '%s'", name), "API", "Config", "load modules")
		}
		mw, err := reg.Factory(deps)
		if err != nil {
			return nil, errors.Wrap(err, "API", "Config", fmt.Sprintf("create module %s", name))
		}
		modules = append(modules, &Module{Name: reg.Name, Endpoint: reg.Endpoint, Middleware: mw})
	}
	return modules, nil
}

// Modules returns the loaded modules in load order
func (a *API) Modules() []*Module {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Module(nil), a.modules...)
}

// Pipe mounts the loaded modules on the surface in load order, the
// catch-all last. With names only those modules are piped. It returns the
// piped module names.
func (a *API) Pipe(names ...string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ordered, last []*Module
	for _, m := range a.modules {
		if len(names) > 0 && !contains(names, m.Name) {
			continue
		}
		if m.Endpoint == CatchAll {
			last = append(last, m)
			continue
		}
		ordered = append(ordered, m)
	}
	ordered = append(ordered, last...)

	piped := make([]string, 0, len(ordered))
	for _, m := range ordered {
		if m.Endpoint == CatchAll {
			a.surface.Use(m.Middleware)
		} else {
			a.surface.Mount(m.MountPath(), m.Middleware)
		}
		piped = append(piped, m.Name)
	}
	return piped
}

// Start starts a standalone API's server
func (a *API) Start(ctx context.Context, opts server.Options) (*server.Handle, error) {
	return a.srv.Start(ctx, opts)
}

// Close stops the server and closes the configured logger
func (a *API) Close(ctx context.Context) error {
	err := a.srv.Close(ctx)
	if server.IsNotRunning(err) {
		err = nil
	}

	a.mu.Lock()
	res := a.result
	a.mu.Unlock()
	if res != nil && res.Logger != nil {
		if cerr := res.Logger.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ErrorHandler writes any error as the error envelope and ends the request
func ErrorHandler() server.ErrorHandler {
	return func(w http.ResponseWriter, _ *http.Request, err error) error {
		server.WriteError(w, err)
		return nil
	}
}

func notFound() server.Middleware {
	return server.Terminal(server.HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		return errors.NotFound()
	}))
}

func header(name, value string) server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			w.Header().Set(name, value)
			return next.Serve(w, r)
		})
	}
}

func options() server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			if r.Method != http.MethodOptions {
				return next.Serve(w, r)
			}
			w.WriteHeader(http.StatusNoContent)
			return nil
		})
	}
}

// version answers with the mount path without its leading slash
func version(mountPath string) server.Handler {
	v := strings.TrimPrefix(mountPath, "/")
	return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(v))
		return err
	})
}

func (a *API) requestMetrics(m *metric.Metrics) server.Middleware {
	surface := a.surfaceName()
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			rw := server.Wrap(w)
			start := time.Now()
			err := next.Serve(rw, r)

			status := rw.Status()
			if err != nil {
				status, _ = errors.Normalize(err, status)
			} else if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(surface, r.Method, status, time.Since(start))
			return err
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
