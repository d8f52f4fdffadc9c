// Package specgate is an HTTP gateway that composes an API surface from
// Swagger 2.0 fragments and forwards every matched operation to backend
// workers over NATS request/reply.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          server.Server              │  Listener, root pipeline,
//	│   (mount, defer, start, close)      │  deferred stages
//	└─────────────────────────────────────┘
//	           ↓ hosts
//	┌─────────────────────────────────────┐
//	│            api.API                  │  Metrics, CORS, logging,
//	│  (config, modules, pipe, version)   │  Swagger metadata, validation
//	└─────────────────────────────────────┘
//	           ↓ dispatches via
//	┌─────────────────────────────────────┐
//	│       dispatch + rpc.Caller         │  Payload per operation,
//	│     (NATS request/reply)            │  response rendering
//	└─────────────────────────────────────┘
//	           ↓ answered by
//	┌─────────────────────────────────────┐
//	│         rpc.Responder               │  Workers sharing a
//	│   (cmd/specgate-worker)             │  queue group
//	└─────────────────────────────────────┘
//
// # Request Flow
//
// A request entering the gateway passes the root stages first. The Swagger
// metadata stage resolves the operation for the request path and method,
// the validator checks parameters against the operation schema, and the
// mounted API surface runs its modules in load order. The swagger module is
// the catch-all: it turns the request into an rpc.Payload, waits for the
// worker reply and writes the status, headers and body it carries. Requests
// nothing handles end with a 404 error envelope:
//
//	{"errors":[{"code":"NOT_FOUND","message":"Not found"}]}
//
// # Packages
//
//   - server: pipeline of prefix mounted middleware with error stages
//   - api: API composition, module registry, CORS, version endpoint
//   - api/modules: hello, ping and swagger modules
//   - openapi: fragment loading, operation metadata, validation, docs UI
//   - dispatch: payload construction and response rendering
//   - rpc: payload types, NATS caller and worker responder
//   - logging: leveled logger with sinks and persisted notifications
//   - natsclient: NATS connection with reconnect and circuit breaker
//   - metric: Prometheus registry and metrics endpoint
//   - config: layered JSON and YAML configuration
//   - errors: classified errors and HTTP error envelopes
//
// # Running
//
//	specgate -config configs/specgate.yaml
//	specgate-worker -config configs/specgate.yaml
//
// A "shutdown" message published on nats.control_subject stops the gateway
// the same way SIGTERM does.
package specgate
