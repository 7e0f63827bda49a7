package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ncecere/open_media_gateway/backend/internal/catalog"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

// Builder turns one catalog entry into a Route.
type Builder func(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error)

// Factory resolves catalog entries into routes grouped by alias.
type Factory struct {
	cfg      *config.Config
	builders map[string]Builder
}

// NewFactory starts from the registered provider builders.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg, builders: cloneDefaultBuilders()}
}

// Register installs or replaces the builder for a provider slug.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[catalog.NormalizeProviderSlug(name)] = builder
}

// Build resolves every enabled entry. Failures are collected so one bad
// endpoint does not hide the others.
func (f *Factory) Build(ctx context.Context) (map[string][]Route, error) {
	if f.cfg == nil {
		return nil, errors.New("providers: config is required")
	}
	routes := make(map[string][]Route)
	var errs []error
	for i, entry := range f.cfg.ModelCatalog {
		if !entry.IsEnabled() {
			continue
		}
		route, err := f.buildEntry(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("model_catalog[%d] alias %q: %w", i, entry.Alias, err))
			continue
		}
		routes[route.Alias] = append(routes[route.Alias], route)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return routes, nil
}

func (f *Factory) buildEntry(ctx context.Context, entry config.ModelCatalogEntry) (Route, error) {
	slug := catalog.NormalizeProviderSlug(entry.Provider)
	builder, ok := f.builders[slug]
	if !ok {
		return Route{}, fmt.Errorf("provider %q unsupported", entry.Provider)
	}
	route, err := builder(ctx, f.cfg, entry)
	if err != nil {
		return Route{}, err
	}
	if route.Alias == "" {
		route.Alias = entry.Alias
	}
	if route.Provider == "" {
		route.Provider = slug
	}
	if route.Currency == "" {
		route.Currency = entry.Currency
	}
	return route, nil
}
