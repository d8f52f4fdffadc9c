package api

import (
	"github.com/c360/specgate/logging"
	"github.com/c360/specgate/openapi"
)

// Config drives API composition. Every section is optional.
type Config struct {
	// MountPath is where the caller mounts a namespaced surface; also the /version answer
	MountPath    string           `json:"mount_path,omitempty" yaml:"mount_path,omitempty"`
	CacheControl string           `json:"cache_control,omitempty" yaml:"cache_control,omitempty"`
	CORS         *CORSConfig      `json:"cors,omitempty" yaml:"cors,omitempty"`
	RateLimit    *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Logger       *logging.Config  `json:"logger,omitempty" yaml:"logger,omitempty"`
	Swagger      *SwaggerConfig   `json:"swagger,omitempty" yaml:"swagger,omitempty"`
	OAuth2       *OAuth2Config    `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	// Routes names the modules to load; empty loads every registered module
	Routes []string `json:"routes,omitempty" yaml:"routes,omitempty"`
	// Fields are the request fields copied into backend payloads
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// SwaggerConfig assembles the document and toggles the middleware built on it
type SwaggerConfig struct {
	openapi.LoaderConfig `yaml:",inline"`

	SkipMetadata bool                     `json:"skip_metadata,omitempty" yaml:"skip_metadata,omitempty"`
	Validator    *openapi.ValidatorConfig `json:"validator,omitempty" yaml:"validator,omitempty"`
	UI           *openapi.UIConfig        `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// OAuth2Config configures the browser login flows of the oauth2 module
type OAuth2Config struct {
	// AuthorizationURL is handed to the backend with every flow payload
	AuthorizationURL string `json:"authorization_url" yaml:"authorization_url"`
	// Views is a directory of page templates replacing the built-in pages
	Views string `json:"views,omitempty" yaml:"views,omitempty"`
}
