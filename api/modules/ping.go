package modules

import (
	"net/http"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/server"
)

// RegisterPing registers the ping module
func RegisterPing(registry *api.Registry) error {
	return registry.Register(&api.Registration{
		Name:        "ping",
		Endpoint:    "/ping",
		Description: "Answers 204 for liveness checks",
		Factory:     NewPing,
	})
}

// NewPing answers every request under its mount path with 204
func NewPing(api.Dependencies) (server.Middleware, error) {
	return server.Terminal(server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})), nil
}
