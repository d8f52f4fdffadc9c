// Package modules provides the built-in operation modules of the API.
package modules

import (
	"errors"

	"github.com/c360/specgate/api"
	pkgerrors "github.com/c360/specgate/errors"
)

// Register registers every built-in module with the provided registry:
//   - hello (GET /hello, answered locally)
//   - ping (/ping, 204)
//   - swagger (catch-all forwarding document operations to the backend)
func Register(registry *api.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"Modules", "Register", "registry validation")
	}

	if err := RegisterHello(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "Modules", "Register", "hello module registration")
	}
	if err := RegisterPing(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "Modules", "Register", "ping module registration")
	}
	if err := RegisterSwagger(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "Modules", "Register", "swagger module registration")
	}
	return nil
}
