package interfaces

import (
	"context"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// UsageTracker keeps per-provider daily request counts.
type UsageTracker interface {
	CanMakeRequest(ctx context.Context, provider string) (bool, error)
	RecordUsage(ctx context.Context, provider string) error
	// TryAcquire checks and reserves n requests of today's quota in one step.
	TryAcquire(ctx context.Context, provider string, n int) (bool, error)
	// Release returns n reserved requests that never reached the provider.
	Release(ctx context.Context, provider string, n int) error
}

// Route is the provider pair selected for a data type. Fallback may be nil.
type Route struct {
	DataType models.DataType
	Primary  MarketDataProvider
	Fallback MarketDataProvider
}

// ProviderRouter selects providers for a data type.
type ProviderRouter interface {
	// Route returns usable providers or common.ErrNoProviderAvailable.
	Route(ctx context.Context, dataType models.DataType) (*Route, error)
}

// SymbolSource supplies the working set of symbols.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// MarketService synchronises market data for the working set.
type MarketService interface {
	SyncQuotes(ctx context.Context, force bool) (*models.BatchResult, error)
	SyncQuotesFor(ctx context.Context, symbols []string, force bool) (*models.BatchResult, error)
	SyncHistoricalPrices(ctx context.Context, days int, force bool) (*models.BatchResult, error)
	SyncHistoricalPricesFor(ctx context.Context, symbols []string, days int, force bool) (*models.BatchResult, error)
	SyncDividends(ctx context.Context, days int, force bool) (*models.BatchResult, error)
	SyncDividendsFor(ctx context.Context, symbols []string, days int, force bool) (*models.BatchResult, error)
	GetFreshnessStats(ctx context.Context) (*models.FreshnessStats, error)
	FinancialsSource
}

// FinancialsSource fetches scoring input for a symbol.
type FinancialsSource interface {
	FetchFinancials(ctx context.Context, symbol string) (*models.FinancialStatements, error)
}

// SafetyService serves cached dividend-safety scores.
type SafetyService interface {
	Get(ctx context.Context, symbol string) (*models.SafetyResult, error)
	NeedsUpdate(ctx context.Context, symbol string) (bool, error)
	Set(ctx context.Context, symbol string, result models.SafetyResult) error
	BulkUpdate(ctx context.Context, symbols []string) (map[string]models.SafetyResult, error)
	GetSafetyScore(ctx context.Context, symbol string) (*models.SafetyResult, error)
	GetPortfolioSafety(ctx context.Context, symbols []string) (*models.PortfolioSafety, error)
}
