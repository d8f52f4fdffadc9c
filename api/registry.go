package api

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/metric"
	"github.com/c360/specgate/openapi"
	"github.com/c360/specgate/rpc"
	"github.com/c360/specgate/server"
)

// CatchAll is the endpoint of the module piped after every other one
const CatchAll = "*"

// Dependencies are handed to module factories
type Dependencies struct {
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()
	Caller          rpc.Caller              // backend caller (can be nil)
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Document        *openapi.Document       // assembled document (can be nil)
	Fields          []string                // request fields copied into payloads
	MountPath       string                  // where the surface is mounted
	OAuth2          *OAuth2Config           // browser login flows (can be nil)
}

// GetLogger returns the configured logger or the default one
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns the logger tagged with a module name
func (d *Dependencies) GetLoggerWithComponent(name string) *slog.Logger {
	return d.GetLogger().With("component", name)
}

// Factory builds the middleware of a module
type Factory func(deps Dependencies) (server.Middleware, error)

// Registration describes an operation module
type Registration struct {
	Name string
	// Endpoint is the mount path; empty means "/"+Name, CatchAll mounts last on every path
	Endpoint    string
	Description string
	Factory     Factory
}

// Registry holds module registrations in registration order
type Registry struct {
	mu    sync.RWMutex
	regs  map[string]*Registration
	order []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Register adds a module. Names must be unique.
func (r *Registry) Register(reg *Registration) error {
	if reg == nil || reg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "module name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "module factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[reg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("module '%s' is already registered", reg.Name), "Registry", "Register", "duplicate module check")
	}
	r.regs[reg.Name] = reg
	r.order = append(r.order, reg.Name)
	return nil
}

// Lookup returns the registration of name
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[name]
	return reg, ok
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Module is a loaded operation module
type Module struct {
	Name       string
	Endpoint   string
	Middleware server.Middleware
}

// MountPath returns where the module is piped
func (m *Module) MountPath() string {
	if m.Endpoint == "" {
		return "/" + m.Name
	}
	return m.Endpoint
}
