// Package metric provides the Prometheus registry and exposition server for
// specgate.
//
// Core gateway metrics cover the HTTP surfaces (requests by status, request
// duration), backend calls (RPC duration and failures by error class), log
// sink throughput and NATS connection health. Components may register their
// own collectors through the MetricsRegistrar interface; registrations are
// keyed by owner and metric name so duplicates are rejected.
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9090", "/metrics", registry, security.ServerTLSConfig{})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
//
// The exposition handler is also available directly via Handler for
// mounting on an existing router.
package metric
