// Package api composes a request surface on a server.
//
// An API is created standalone, on a server root, or as a namespaced
// sub-surface with its own pipeline. Config installs, in order, the response
// header and CORS middleware, the request logger, the document driven
// metadata, validator and docs UI, the deferred 404 and terminal error
// handlers, and loads the operation modules named in the configuration.
// Pipe then mounts the loaded modules, the catch-all module last.
//
//	a, _ := api.New(srv, "api", api.WithRegistry(registry), api.WithCaller(caller))
//	res, err := a.Config(ctx, cfg)
//	a.Pipe()
//	srv.Mount(cfg.MountPath, a.Surface().Middleware())
package api
