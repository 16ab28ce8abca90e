package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// GetFreshnessStats reports how current stored quotes are for the active
// symbol set, plus per-data-type counts from symbol bookkeeping.
func (s *Service) GetFreshnessStats(ctx context.Context) (*models.FreshnessStats, error) {
	symbols, err := s.activeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	symbols = normalizeSymbols(symbols)
	now := s.policy.Now()

	stats := &models.FreshnessStats{
		TotalStocks: len(symbols),
		ByDataType: map[models.DataType]models.DataTypeFreshness{
			models.DataQuotes:           {},
			models.DataHistoricalPrices: {},
			models.DataDividends:        {},
		},
		Session: string(s.policy.Session(now)),
	}

	for _, symbol := range symbols {
		quote, err := s.storage.QuoteStore().GetQuote(ctx, symbol)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			stats.MissingData++
		case err != nil:
			return nil, fmt.Errorf("load quote %s: %w", symbol, err)
		default:
			if s.policy.IsStale(quote.FetchedAt, false) {
				stats.StaleData++
			} else {
				stats.FreshData++
			}
			ts := quote.FetchedAt
			if stats.OldestDataTimestamp == nil || ts.Before(*stats.OldestDataTimestamp) {
				stats.OldestDataTimestamp = &ts
			}
			if stats.NewestDataTimestamp == nil || ts.After(*stats.NewestDataTimestamp) {
				newest := ts
				stats.NewestDataTimestamp = &newest
			}
		}

		rec, err := s.storage.SymbolStore().GetSymbol(ctx, symbol)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("load symbol record %s: %w", symbol, err)
		}
		for dataType, counts := range stats.ByDataType {
			var last time.Time
			if rec != nil {
				last = rec.FetchedAt(dataType)
			}
			switch {
			case last.IsZero():
				counts.Missing++
			case dataType == models.DataQuotes && s.policy.IsStale(last, false):
				counts.Stale++
			case dataType != models.DataQuotes && s.policy.IsStaleDaily(last, false):
				counts.Stale++
			default:
				counts.Fresh++
			}
			stats.ByDataType[dataType] = counts
		}
	}
	return stats, nil
}

// FetchFinancials retrieves scoring input for symbol through the
// financial-statements route, with the same fallback and usage rules as a sync.
// Consecutive calls are spaced by the request delay.
func (s *Service) FetchFinancials(ctx context.Context, symbol string) (*models.FinancialStatements, error) {
	symbol = models.NormalizeSymbol(symbol)
	route, err := s.router.Route(ctx, models.DataFinancialStatements)
	if err != nil {
		return nil, err
	}

	now := s.policy.Now()
	logger := s.logger.WithCorrelationId("financials-" + symbol)
	fin, provider, err := fetchWithFallback(ctx, s, logger, s.financials, route, symbol, models.DataFinancialStatements,
		func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) (*models.FinancialStatements, error) {
			return p.FetchFinancials(ctx, symbol, s.lookbackYears)
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	if fin == nil {
		fin = &models.FinancialStatements{}
	}
	fin.Symbol = symbol
	if fin.Source == "" {
		fin.Source = provider
	}
	fin.FetchedAt = now.UTC()

	rec, err := s.loadSymbol(ctx, symbol, now)
	if err == nil {
		rec.MarkFetched(models.DataFinancialStatements, now.UTC())
		err = s.storage.SymbolStore().SaveSymbol(ctx, rec)
	}
	if err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to record financials fetch")
	}
	return fin, nil
}
