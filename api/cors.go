package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/c360/specgate/server"
)

// CORSConfig configures the CORS middleware
type CORSConfig struct {
	// Origins lists allowed origins; "*" allows all, a leading "." matches subdomains
	Origins        []string `json:"origins" yaml:"origins"`
	Methods        []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Headers        []string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ExposedHeaders []string `json:"exposed_headers,omitempty" yaml:"exposed_headers,omitempty"`
	Credentials    bool     `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	MaxAge         int      `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// CORS sets the CORS headers for allowed origins and answers preflight
// requests with 204.
func CORS(cfg CORSConfig) server.Middleware {
	allowAll := false
	for _, o := range cfg.Origins {
		if o == "*" {
			allowAll = true
		}
	}
	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}
	}
	headers := strings.Join(cfg.Headers, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || originAllowed(cfg.Origins, origin)) {
				h := w.Header()
				if allowAll && !cfg.Credentials {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				if cfg.Credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if len(cfg.ExposedHeaders) > 0 {
					h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
				}

				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					h.Set("Access-Control-Allow-Methods", strings.Join(methods, ","))
					if headers != "" {
						h.Set("Access-Control-Allow-Headers", headers)
					} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
						h.Set("Access-Control-Allow-Headers", req)
					}
					if maxAge != "" {
						h.Set("Access-Control-Max-Age", maxAge)
					}
					w.WriteHeader(http.StatusNoContent)
					return nil
				}
			}
			return next.Serve(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == origin || (strings.HasPrefix(a, ".") && strings.HasSuffix(origin, a)) {
			return true
		}
	}
	return false
}
