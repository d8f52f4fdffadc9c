package health

import (
	"net/http"
	"sort"
	"sync"

	"github.com/c360/specgate/server"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	name string

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a monitor whose aggregate carries name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:     name,
		statuses: make(map[string]Status),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// Tracker returns a callback recording healthy transitions of name, in the
// shape natsclient.WithHealthChangeCallback expects.
func (m *Monitor) Tracker(name string) func(healthy bool) {
	return func(healthy bool) {
		if healthy {
			m.Update(name, NewHealthy(name, "connected"))
			return
		}
		m.Update(name, NewUnhealthy(name, "disconnected"))
	}
}

// Aggregate returns the combined status, sub statuses sorted by component
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}

// Handler answers the aggregate as JSON, with 503 when it is unhealthy
func (m *Monitor) Handler() server.Handler {
	return server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		status := m.Aggregate()
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		return server.WriteJSON(w, code, status)
	})
}
