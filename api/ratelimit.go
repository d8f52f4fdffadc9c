package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

// maxClients bounds the per client limiter table before idle entries are pruned
const maxClients = 10000

// RateLimitConfig configures the token bucket in front of the surface
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second
	Rate  float64 `json:"rate" yaml:"rate"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	// PerClient keeps one bucket per remote IP instead of one for the surface
	PerClient bool `json:"per_client,omitempty" yaml:"per_client,omitempty"`
}

type limiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *limiters) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxClients {
			l.prune(now)
		}
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// prune drops clients whose bucket has refilled, since a new bucket starts full
func (l *limiters) prune(now time.Time) {
	idle := time.Minute
	if l.limit > 0 {
		if refill := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(l.clients, key)
		}
	}
}

// RateLimit rejects requests over the configured rate with a
// TOO_MANY_REQUESTS error and a Retry-After header.
func RateLimit(cfg RateLimitConfig) server.Middleware {
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.Rate))
	}
	global := rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	table := &limiters{limit: rate.Limit(cfg.Rate), burst: burst, clients: make(map[string]*client)}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			limiter := global
			if cfg.PerClient {
				limiter = table.get(clientKey(r), time.Now())
			}
			if !limiter.Allow() {
				retry := 1
				if cfg.Rate > 0 && cfg.Rate < 1 {
					retry = int(1/cfg.Rate + 0.5)
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				return errors.TooManyRequests()
			}
			return next.Serve(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
