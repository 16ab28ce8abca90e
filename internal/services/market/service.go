// Package market synchronises quotes, price history and dividends for the
// working set of symbols
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

const (
	DefaultRequestDelay   = 250 * time.Millisecond
	DefaultHistoricalDays = 30
	DefaultDividendDays   = 365
	DefaultLookbackYears  = 5
)

// Service implements interfaces.MarketService.
type Service struct {
	storage interfaces.StorageManager
	symbols interfaces.SymbolSource
	router  interfaces.ProviderRouter
	usage   interfaces.UsageTracker
	policy  *common.FreshnessPolicy
	logger  *common.Logger

	requestDelay   time.Duration
	workers        int
	historicalDays int
	dividendDays   int
	lookbackYears  int

	// blocking pause between external calls; replaced in tests
	pause func(ctx context.Context, d time.Duration) error
	// spaces FetchFinancials calls across callers
	financials *pacer
}

// Option configures the service
type Option func(*Service)

// WithRequestDelay sets the pause between external calls.
func WithRequestDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.requestDelay = d
		}
	}
}

// WithWorkers sets how many symbols are processed concurrently. 1 is sequential.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDefaultDays sets the windows used when a caller passes days <= 0.
func WithDefaultDays(historical, dividends int) Option {
	return func(s *Service) {
		if historical > 0 {
			s.historicalDays = historical
		}
		if dividends > 0 {
			s.dividendDays = dividends
		}
	}
}

// WithLookbackYears sets how many annual statements FetchFinancials requests.
func WithLookbackYears(years int) Option {
	return func(s *Service) {
		if years > 0 {
			s.lookbackYears = years
		}
	}
}

// NewService creates a new market service
func NewService(
	storage interfaces.StorageManager,
	symbols interfaces.SymbolSource,
	router interfaces.ProviderRouter,
	usage interfaces.UsageTracker,
	policy *common.FreshnessPolicy,
	logger *common.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		storage:        storage,
		symbols:        symbols,
		router:         router,
		usage:          usage,
		policy:         policy,
		logger:         logger,
		requestDelay:   DefaultRequestDelay,
		workers:        1,
		historicalDays: DefaultHistoricalDays,
		dividendDays:   DefaultDividendDays,
		lookbackYears:  DefaultLookbackYears,
		pause:          sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.financials = &pacer{s: s, remainder: true}
	return s
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// normalizeSymbols upper-cases, de-duplicates and sorts symbols, dropping blanks.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = models.NormalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Service) activeSymbols(ctx context.Context) ([]string, error) {
	if s.symbols == nil {
		return nil, errors.New("no symbol source configured")
	}
	symbols, err := s.symbols.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active symbols: %w", err)
	}
	return symbols, nil
}

// loadSymbol returns the bookkeeping record for symbol, creating it on first reference.
func (s *Service) loadSymbol(ctx context.Context, symbol string, now time.Time) (*models.SymbolRecord, error) {
	rec, err := s.storage.SymbolStore().GetSymbol(ctx, symbol)
	if errors.Is(err, interfaces.ErrNotFound) {
		return &models.SymbolRecord{Symbol: symbol, FirstSeen: now.UTC()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load symbol record: %w", err)
	}
	return rec, nil
}

// window returns the [from, to] range covering the last days market-local days.
func (s *Service) window(days int) (time.Time, time.Time) {
	now := s.policy.Now()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return to.AddDate(0, 0, -days), to
}

// SyncQuotes refreshes quotes for the active symbol set.
func (s *Service) SyncQuotes(ctx context.Context, force bool) (*models.BatchResult, error) {
	symbols, err := s.activeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return s.SyncQuotesFor(ctx, symbols, force)
}

// SyncQuotesFor refreshes quotes for an explicit symbol list.
func (s *Service) SyncQuotesFor(ctx context.Context, symbols []string, force bool) (*models.BatchResult, error) {
	job := syncJob[*models.Quote]{
		dataType: models.DataQuotes,
		fetch: func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) (*models.Quote, error) {
			q, err := p.FetchQuote(ctx, symbol)
			if err == nil && q == nil {
				err = common.NewMalformedError(p.Name(), "quote", fmt.Errorf("empty quote for %s", symbol))
			}
			return q, err
		},
		persist: s.saveQuote,
	}
	return runBatch(ctx, s, normalizeSymbols(symbols), force, job)
}

func (s *Service) saveQuote(ctx context.Context, symbol string, q *models.Quote, now time.Time) error {
	incoming := *q
	incoming.Symbol = symbol
	incoming.FetchedAt = now.UTC()
	incoming.MarketState = s.policy.MarketState(now)
	if incoming.QuoteTime.IsZero() {
		incoming.QuoteTime = now.UTC()
	}

	existing, err := s.storage.QuoteStore().GetQuote(ctx, symbol)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("load quote: %w", err)
	}
	merged := models.MergeQuote(existing, incoming)
	if err := s.storage.QuoteStore().SaveQuote(ctx, &merged); err != nil {
		return fmt.Errorf("save quote: %w", err)
	}
	return nil
}

// SyncHistoricalPrices refreshes the last days of daily bars for the active symbol set.
func (s *Service) SyncHistoricalPrices(ctx context.Context, days int, force bool) (*models.BatchResult, error) {
	symbols, err := s.activeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return s.SyncHistoricalPricesFor(ctx, symbols, days, force)
}

// SyncHistoricalPricesFor refreshes daily bars for an explicit symbol list.
func (s *Service) SyncHistoricalPricesFor(ctx context.Context, symbols []string, days int, force bool) (*models.BatchResult, error) {
	if days <= 0 {
		days = s.historicalDays
	}
	from, to := s.window(days)
	job := syncJob[[]models.PriceBar]{
		dataType: models.DataHistoricalPrices,
		daily:    true,
		fetch: func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) ([]models.PriceBar, error) {
			return p.FetchHistory(ctx, symbol, from, to)
		},
		persist: func(ctx context.Context, symbol string, bars []models.PriceBar, _ time.Time) error {
			for i := range bars {
				bars[i].Symbol = symbol
			}
			if err := s.storage.PriceStore().UpsertBars(ctx, bars); err != nil {
				return fmt.Errorf("save price bars: %w", err)
			}
			return nil
		},
	}
	return runBatch(ctx, s, normalizeSymbols(symbols), force, job)
}

// SyncDividends refreshes the last days of dividend events for the active symbol set.
func (s *Service) SyncDividends(ctx context.Context, days int, force bool) (*models.BatchResult, error) {
	symbols, err := s.activeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return s.SyncDividendsFor(ctx, symbols, days, force)
}

// SyncDividendsFor refreshes dividend events for an explicit symbol list.
func (s *Service) SyncDividendsFor(ctx context.Context, symbols []string, days int, force bool) (*models.BatchResult, error) {
	if days <= 0 {
		days = s.dividendDays
	}
	from, to := s.window(days)
	job := syncJob[[]models.DividendEvent]{
		dataType: models.DataDividends,
		daily:    true,
		fetch: func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) ([]models.DividendEvent, error) {
			return p.FetchDividends(ctx, symbol, from, to)
		},
		persist: func(ctx context.Context, symbol string, events []models.DividendEvent, _ time.Time) error {
			for i := range events {
				events[i].Symbol = symbol
			}
			if err := s.storage.DividendStore().UpsertDividends(ctx, events); err != nil {
				return fmt.Errorf("save dividends: %w", err)
			}
			return nil
		},
	}
	return runBatch(ctx, s, normalizeSymbols(symbols), force, job)
}
