// Package config loads the gateway configuration.
//
// Loader merges, in order, the built-in defaults, every JSON or YAML layer
// and the SPECGATE_* environment overrides. Duration fields accept strings
// such as "10s" or "1d".
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/specgate.yaml")
//	loader.AddLayer("configs/production.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Environment overrides:
//
//	SPECGATE_SERVICE_NAME, SPECGATE_INSTANCE_ID
//	SPECGATE_HTTP_HOST, SPECGATE_HTTP_PORT
//	SPECGATE_NATS_URLS (comma separated), SPECGATE_NATS_USERNAME,
//	SPECGATE_NATS_PASSWORD, SPECGATE_NATS_TOKEN, SPECGATE_NATS_CONTROL_SUBJECT
//	SPECGATE_RPC_SUBJECT
//	SPECGATE_METRICS_ENABLED, SPECGATE_METRICS_ADDR
//
// Layer files must stay inside the working directory when given as relative
// paths, are limited to 10MB and 100 levels of nesting.
package config
