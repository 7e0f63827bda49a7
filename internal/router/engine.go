package router

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ncecere/open_media_gateway/backend/internal/adapters/runpod"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
)

type Engine struct {
	mu     sync.RWMutex
	routes map[string][]providers.Route
	state  map[string]*routeState
}

type routeState struct {
	consecutiveFailures int
	openUntil           time.Time
}

const (
	failureThreshold = 3
	openDuration     = time.Minute
)

func NewEngine() *Engine {
	return &Engine{
		routes: make(map[string][]providers.Route),
		state:  make(map[string]*routeState),
	}
}

func (e *Engine) Reload(ctx context.Context, factory *providers.Factory) error {
	routes, err := factory.Build(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newState := make(map[string]*routeState, len(routes))
	for alias, rts := range routes {
		for _, route := range rts {
			key := routeKey(alias, route)
			if old, ok := e.state[key]; ok {
				newState[key] = old
			} else {
				newState[key] = &routeState{}
			}
		}
	}

	e.routes = routes
	e.state = newState
	return nil
}

// SelectRoutes returns the healthy routes for alias with a weighted pick first.
func (e *Engine) SelectRoutes(alias string) []providers.Route {
	return e.SelectRoutesFor(alias, "")
}

// SelectRoutesFor is SelectRoutes restricted to routes serving modality.
// An empty modality matches every route.
func (e *Engine) SelectRoutesFor(alias, modality string) []providers.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()

	healthy := make([]providers.Route, 0)
	now := time.Now()
	for _, route := range e.routes[alias] {
		if modality != "" && !route.Supports(modality) {
			continue
		}
		st := e.state[routeKey(alias, route)]
		if st == nil || st.openUntil.Before(now) {
			healthy = append(healthy, route)
		}
	}

	if len(healthy) <= 1 {
		return healthy
	}

	idx := weightedSelect(healthy)
	if idx != 0 {
		selected := healthy[idx]
		healthy[idx] = healthy[0]
		healthy[0] = selected
	}

	return healthy
}

// Known reports whether alias is configured, regardless of circuit state.
func (e *Engine) Known(alias string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.routes[alias]) > 0
}

// Serves reports whether any route of alias handles modality.
func (e *Engine) Serves(alias, modality string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, route := range e.routes[alias] {
		if route.Supports(modality) {
			return true
		}
	}
	return false
}

func (e *Engine) ReportSuccess(alias string, route providers.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state[routeKey(alias, route)]
	if st == nil {
		st = &routeState{}
		e.state[routeKey(alias, route)] = st
	}
	st.consecutiveFailures = 0
	st.openUntil = time.Time{}
}

func (e *Engine) ReportFailure(alias string, route providers.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state[routeKey(alias, route)]
	if st == nil {
		st = &routeState{}
		e.state[routeKey(alias, route)] = st
	}

	st.consecutiveFailures++
	if st.consecutiveFailures >= failureThreshold {
		st.openUntil = time.Now().Add(openDuration)
	}
}

// ReportResult records err against the route's circuit. Caller mistakes and
// cancellations say nothing about the endpoint and are not counted.
func (e *Engine) ReportResult(alias string, route providers.Route, err error) {
	if err == nil {
		e.ReportSuccess(alias, route)
		return
	}
	if !CountsAgainstRoute(err) {
		return
	}
	e.ReportFailure(alias, route)
}

// CountsAgainstRoute reports whether err indicates an unhealthy upstream.
func CountsAgainstRoute(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, runpod.ErrInvalidArgument), errors.Is(err, runpod.ErrCancelled):
		return false
	}
	return true
}

// Failover reports whether another route should be tried after err. A job
// that was accepted but never reached a terminal state may still be running
// remotely, so it blocks failover to keep one job in flight per call.
func Failover(err error) bool {
	switch runpod.KindOf(err) {
	case runpod.KindInvalidArgument, runpod.KindCancelled, runpod.KindMalformedOutput, runpod.KindTimeout:
		return false
	case runpod.KindSubmission:
		var rpErr *runpod.Error
		if errors.As(err, &rpErr) && rpErr.JobID != "" {
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

func weightedSelect(routes []providers.Route) int {
	total := 0
	for _, r := range routes {
		if r.Weight > 0 {
			total += r.Weight
		}
	}
	if total == 0 {
		return rand.Intn(len(routes))
	}
	draw := rand.Intn(total)
	sum := 0
	for idx, r := range routes {
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		sum += weight
		if draw < sum {
			return idx
		}
	}
	return 0
}

func routeKey(alias string, route providers.Route) string {
	return alias + "::" + route.Provider + "::" + route.ResolveDeployment()
}

// ListAliases returns the set of configured aliases and their routes.
func (e *Engine) ListAliases() map[string][]providers.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()

	copyMap := make(map[string][]providers.Route, len(e.routes))
	for alias, routes := range e.routes {
		out := make([]providers.Route, len(routes))
		copy(out, routes)
		copyMap[alias] = out
	}
	return copyMap
}

func BuildFactory(cfg *config.Config, entries []config.ModelCatalogEntry) (*providers.Factory, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	override := *cfg
	override.ModelCatalog = entries
	return providers.NewFactory(&override), nil
}
