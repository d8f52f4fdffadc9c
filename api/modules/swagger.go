package modules

import (
	"fmt"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/dispatch"
	"github.com/c360/specgate/server"
)

// RegisterSwagger registers the document driven dispatch module
func RegisterSwagger(registry *api.Registry) error {
	return registry.Register(&api.Registration{
		Name:        "swagger",
		Endpoint:    api.CatchAll,
		Description: "Forwards requests matching a document operation to the backend",
		Factory:     NewSwagger,
	})
}

// NewSwagger resolves the request token and dispatches document operations
// through the backend caller. Requests without an operation pass through.
func NewSwagger(deps api.Dependencies) (server.Middleware, error) {
	if deps.Caller == nil {
		return nil, fmt.Errorf("swagger module requires a caller")
	}

	var opts []dispatch.Option
	if len(deps.Fields) > 0 {
		opts = append(opts, dispatch.WithFields(deps.Fields...))
	}
	d := dispatch.New(deps.GetLoggerWithComponent("swagger"), deps.Caller, opts...)

	tokens := dispatch.TokenCheck()
	forward := d.Middleware()
	return func(next server.Handler) server.Handler {
		return tokens(forward(next))
	}, nil
}
