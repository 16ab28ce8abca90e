// Package router selects market-data providers per data type
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Router implements interfaces.ProviderRouter.
// A provider is usable for a data type when it is in the capability matrix,
// its credential is active with a key, and it has quota left today.
type Router struct {
	store   interfaces.ProviderStore
	usage   interfaces.UsageTracker
	factory ClientFactory
	logger  *common.Logger
}

// NewRouter creates a provider router.
func NewRouter(store interfaces.ProviderStore, usage interfaces.UsageTracker, factory ClientFactory, logger *common.Logger) *Router {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Router{store: store, usage: usage, factory: factory, logger: logger}
}

// Route returns the usable providers for dataType. When the primary is not
// usable the fallback is returned as Primary with no Fallback.
func (r *Router) Route(ctx context.Context, dataType models.DataType) (*interfaces.Route, error) {
	cfg, err := r.store.GetRoute(ctx, dataType)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w for %s: no route configured", common.ErrNoProviderAvailable, dataType)
	}
	if err != nil {
		return nil, fmt.Errorf("load route for %s: %w", dataType, err)
	}
	if !cfg.Active {
		return nil, fmt.Errorf("%w for %s: route inactive", common.ErrNoProviderAvailable, dataType)
	}

	primary, err := r.usable(ctx, cfg.PrimaryProvider, dataType)
	if err != nil {
		return nil, err
	}
	var fallback interfaces.MarketDataProvider
	if cfg.FallbackProvider != "" && cfg.FallbackProvider != cfg.PrimaryProvider {
		fallback, err = r.usable(ctx, cfg.FallbackProvider, dataType)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case primary != nil:
		return &interfaces.Route{DataType: dataType, Primary: primary, Fallback: fallback}, nil
	case fallback != nil:
		r.logger.Debug().
			Str("data_type", string(dataType)).
			Str("primary", cfg.PrimaryProvider).
			Str("fallback", cfg.FallbackProvider).
			Msg("Primary provider unusable, routing to fallback")
		return &interfaces.Route{DataType: dataType, Primary: fallback}, nil
	}
	return nil, fmt.Errorf("%w for %s", common.ErrNoProviderAvailable, dataType)
}

// usable returns a client for provider, or nil when it cannot serve dataType.
// Only store failures are returned as errors.
func (r *Router) usable(ctx context.Context, provider string, dataType models.DataType) (interfaces.MarketDataProvider, error) {
	if provider == "" {
		return nil, nil
	}
	if !Supports(provider, dataType) {
		r.logger.Debug().Str("provider", provider).Str("data_type", string(dataType)).Msg("Provider does not support data type")
		return nil, nil
	}

	cred, err := r.store.GetCredential(ctx, provider)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential for %s: %w", provider, err)
	}
	if !cred.Active || cred.APIKey == "" {
		return nil, nil
	}

	ok, err := r.usage.CanMakeRequest(ctx, provider)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Debug().Str("provider", provider).Msg("Provider has no remaining daily quota")
		return nil, nil
	}

	client, err := r.factory.NewProvider(cred)
	if err != nil {
		r.logger.Warn().Str("provider", provider).Err(err).Msg("Failed to build provider client")
		return nil, nil
	}
	return client, nil
}
