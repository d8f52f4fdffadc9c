package modules

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/server"
)

const defaultName = "stranger"

// HelloResponse is the body answered by the hello module
type HelloResponse struct {
	Data string `json:"data"`
}

// RegisterHello registers the hello module
func RegisterHello(registry *api.Registry) error {
	return registry.Register(&api.Registration{
		Name:        "hello",
		Endpoint:    "/hello",
		Description: "Greets the name given in the query, or a stranger",
		Factory:     NewHello,
	})
}

// NewHello answers GET / under its mount path with a greeting
func NewHello(deps api.Dependencies) (server.Middleware, error) {
	logger := deps.GetLoggerWithComponent("hello")

	router := mux.NewRouter()
	router.Handle("/", server.Adapt(server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = defaultName
		}
		logger.Debug("hello", "name", name)
		return server.WriteJSON(w, http.StatusOK, HelloResponse{Data: "Hello, " + name + "!"})
	}))).Methods(http.MethodGet)

	return server.Routes(router), nil
}
