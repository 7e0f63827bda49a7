package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
	"github.com/ncecere/open_media_gateway/backend/internal/router"
)

// Monitor periodically checks RunPod endpoint health and feeds the router's
// circuit breaker.
type Monitor struct {
	engine    *router.Engine
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	getRoutes func() map[string][]providers.Route
	startOnce sync.Once

	mu     sync.RWMutex
	status map[string]RouteStatus
}

// RouteStatus is the last check result for one route.
type RouteStatus struct {
	Alias     string    `json:"alias"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewMonitor constructs a monitor using the health configuration.
func NewMonitor(engine *router.Engine, cfg config.HealthConfig) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.Cooldown
	if timeout <= 0 || timeout > interval {
		timeout = 5 * time.Second
	}

	return &Monitor{
		engine:   engine,
		interval: interval,
		timeout:  timeout,
		logger:   slog.Default().With("component", "health"),
		status:   make(map[string]RouteStatus),
	}
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context, getRoutes func() map[string][]providers.Route) {
	if getRoutes == nil || m.engine == nil {
		return
	}
	m.getRoutes = getRoutes

	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkRoutes(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkRoutes(ctx)
		}
	}
}

func (m *Monitor) checkRoutes(ctx context.Context) {
	routes := m.getRoutes()
	if len(routes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for alias, rs := range routes {
		for _, route := range rs {
			if route.Health == nil {
				continue
			}

			wg.Add(1)
			go func(alias string, route providers.Route) {
				defer wg.Done()
				timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
				defer cancel()

				err := route.Health(timeoutCtx)
				m.record(alias, route, err)
				if err != nil {
					m.logger.Warn("route health check failed", "alias", alias, "provider", route.Provider, "endpoint", route.Endpoint, "error", err)
					m.engine.ReportFailure(alias, route)
					return
				}
				m.engine.ReportSuccess(alias, route)
			}(alias, route)
		}
	}
	wg.Wait()
}

// CheckNow runs one check sweep synchronously.
func (m *Monitor) CheckNow(ctx context.Context) {
	if m.getRoutes == nil {
		return
	}
	m.checkRoutes(ctx)
}

// Snapshot returns the latest check results ordered by alias.
func (m *Monitor) Snapshot() []RouteStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RouteStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alias == out[j].Alias {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].Alias < out[j].Alias
	})
	return out
}

func (m *Monitor) record(alias string, route providers.Route, err error) {
	st := RouteStatus{
		Alias:     alias,
		Provider:  route.Provider,
		Endpoint:  route.Endpoint,
		Healthy:   err == nil,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	m.mu.Lock()
	m.status[alias+"::"+route.Provider+"::"+route.ResolveDeployment()] = st
	m.mu.Unlock()
}
