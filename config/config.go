package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/pkg/security"
	"github.com/c360/specgate/rpc"
)

// Config represents the complete gateway configuration
type Config struct {
	Version  string          `json:"version"` // Semantic version answered on /version
	Service  ServiceConfig   `json:"service"`
	HTTP     HTTPConfig      `json:"http"`
	Security security.Config `json:"security,omitempty"`
	NATS     NATSConfig      `json:"nats"`
	RPC      RPCConfig       `json:"rpc"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
	API      APIConfig       `json:"api"`
}

// ServiceConfig identifies the running gateway
type ServiceConfig struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id,omitempty"`
}

// HTTPConfig defines the listener
type HTTPConfig struct {
	Host              string        `json:"host,omitempty"`
	Port              int           `json:"port"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout,omitempty"`
	IdleTimeout       time.Duration `json:"idle_timeout,omitempty"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	// ControlSubject carries process messages such as "shutdown"; empty disables it
	ControlSubject string `json:"control_subject,omitempty"`
}

// RPCConfig defines the backend request/reply channel
type RPCConfig struct {
	Subject string        `json:"subject"`
	Queue   string        `json:"queue,omitempty"` // worker queue group
	Timeout time.Duration `json:"timeout,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// APIConfig is the composed API surface. An empty namespace composes on the
// server root; otherwise the surface is mounted at MountPath.
type APIConfig struct {
	Namespace string `json:"namespace,omitempty"`
	api.Config
}

// Defaults returns the configuration every layer is merged over
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{Name: "specgate"},
		HTTP: HTTPConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
		},
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ControlSubject: "specgate.control",
		},
		RPC: RPCConfig{
			Subject: rpc.DefaultSubject,
			Queue:   rpc.DefaultQueue,
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return fmt.Errorf("version: %w", err)
		}
	}

	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if c.NATS.ControlSubject != "" && !isValidNATSSubject(c.NATS.ControlSubject) {
		return fmt.Errorf("nats.control_subject '%s' is not a valid NATS subject", c.NATS.ControlSubject)
	}

	if !isValidNATSSubject(c.RPC.Subject) {
		return fmt.Errorf("rpc.subject '%s' is not a valid NATS subject", c.RPC.Subject)
	}
	if c.RPC.Timeout < 0 {
		return errors.New("rpc.timeout cannot be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path '%s' must start with /", c.Metrics.Path)
	}

	if err := c.validateAPI(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	return nil
}

func (c *Config) validateAPI() error {
	a := c.API
	if a.MountPath != "" && !strings.HasPrefix(a.MountPath, "/") {
		return fmt.Errorf("mount_path '%s' must start with /", a.MountPath)
	}
	if a.Namespace != "" && a.MountPath == "" {
		return errors.New("mount_path is required for a namespaced api")
	}
	if a.Logger != nil {
		if err := a.Logger.Validate(); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
	}
	if a.RateLimit != nil && a.RateLimit.Rate <= 0 {
		return errors.New("rate_limit.rate must be positive")
	}
	if a.OAuth2 != nil && a.OAuth2.AuthorizationURL == "" {
		return errors.New("oauth2.authorization_url is required")
	}
	if a.Swagger != nil && a.Swagger.Definition == nil && len(a.Swagger.APIs) == 0 && len(a.Swagger.APIsDirs) == 0 {
		return errors.New("swagger needs a definition, apis or apis_dirs")
	}
	return nil
}

// isValidNATSSubject checks every dot separated token of a literal subject
func isValidNATSSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isValidNATSSubjectPart(part) {
			return false
		}
	}
	return true
}

// isValidNATSSubjectPart checks if a token is valid for use in NATS subjects.
// Valid characters are alphanumeric, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// validateSecurity validates the security configuration
func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if server.CertFile == "" {
			return errors.New("tls.server.cert_file is required when TLS is enabled")
		}
		if server.KeyFile == "" {
			return errors.New("tls.server.key_file is required when TLS is enabled")
		}
		if _, err := os.Stat(server.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}
		if _, err := os.Stat(server.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}
		if server.MinVersion != "" {
			if err := validateTLSVersion(server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
		for i, caFile := range server.MTLS.ClientCAFiles {
			if _, err := os.Stat(caFile); err != nil {
				return fmt.Errorf("tls.server.mtls.client_ca_files[%d]: %w", i, err)
			}
		}
	}

	client := c.Security.TLS.Client
	for i, caFile := range client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}

	if client.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true). This should only be used in development/testing!\n",
		)
	}

	if client.MinVersion != "" {
		if err := validateTLSVersion(client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}

	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// Instance returns the instance identifier, falling back to the service name
func (c *Config) Instance() string {
	if c.Service.InstanceID != "" {
		return c.Service.InstanceID
	}
	return c.Service.Name
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.NATS.Password = mask(masked.NATS.Password)
	masked.NATS.Token = mask(masked.NATS.Token)
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, errors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	nums := make([]int, 3)
	for i, name := range []string{"major", "minor", "patch"} {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid %s version '%s': %w", name, parts[i], err)
		}
		nums[i] = n
	}

	return nums[0], nums[1], nums[2], nil
}
