package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

const (
	DefaultMaxAge        = 24 * time.Hour
	DefaultLookbackYears = 5
)

// Service implements interfaces.SafetyService. One cache entry per symbol is
// shared by every portfolio holding it.
type Service struct {
	cache     interfaces.SafetyStore
	dividends interfaces.DividendStore
	source    interfaces.FinancialsSource
	clock     common.Clock
	logger    *common.Logger

	maxAge        time.Duration
	lookbackYears int
}

// NewService creates a safety service. dividends may be nil; when set, stored
// dividend events stand in for a financials payload without dividend history.
func NewService(
	cache interfaces.SafetyStore,
	dividends interfaces.DividendStore,
	source interfaces.FinancialsSource,
	config common.SafetyConfig,
	clock common.Clock,
	logger *common.Logger,
) *Service {
	if clock == nil {
		clock = common.SystemClock
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		cache:         cache,
		dividends:     dividends,
		source:        source,
		clock:         clock,
		logger:        logger,
		maxAge:        config.GetMaxAge(),
		lookbackYears: config.GetLookbackYears(),
	}
}

func (s *Service) entry(ctx context.Context, symbol string) (*models.SafetyCacheEntry, error) {
	entry, err := s.cache.GetSafety(ctx, symbol)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load safety entry for %s: %w", symbol, err)
	}
	return entry, nil
}

// Get returns the cached result for symbol, or nil when none exists.
func (s *Service) Get(ctx context.Context, symbol string) (*models.SafetyResult, error) {
	entry, err := s.entry(ctx, models.NormalizeSymbol(symbol))
	if err != nil || entry == nil {
		return nil, err
	}
	r := entry.Result()
	return &r, nil
}

// NeedsUpdate reports whether symbol has no entry, a zero score, or an entry older than the max age.
func (s *Service) NeedsUpdate(ctx context.Context, symbol string) (bool, error) {
	entry, err := s.entry(ctx, models.NormalizeSymbol(symbol))
	if err != nil {
		return false, err
	}
	return entry.NeedsUpdate(s.clock.Now(), s.maxAge), nil
}

// Set stores result as the cache entry for symbol, stamped now.
func (s *Service) Set(ctx context.Context, symbol string, result models.SafetyResult) error {
	result.Symbol = models.NormalizeSymbol(symbol)
	if err := s.cache.SaveSafety(ctx, models.NewSafetyCacheEntry(result, s.clock.Now().UTC())); err != nil {
		return fmt.Errorf("save safety entry for %s: %w", result.Symbol, err)
	}
	return nil
}

// compute fetches financials, scores them and caches the result.
func (s *Service) compute(ctx context.Context, symbol string) (models.SafetyResult, error) {
	fin, err := s.source.FetchFinancials(ctx, symbol)
	if err != nil {
		return models.SafetyResult{}, err
	}
	if fin == nil {
		fin = &models.FinancialStatements{Symbol: symbol}
	}
	if len(fin.Dividends) == 0 {
		fin.Dividends = s.storedDividendHistory(ctx, symbol)
	}

	result := Score(fin, s.lookbackYears)
	result.Symbol = symbol
	result.ComputedAt = s.clock.Now().UTC()
	if err := s.Set(ctx, symbol, result); err != nil {
		return result, err
	}

	s.logger.Debug().
		Str("symbol", symbol).
		Float64("score", result.Score).
		Str("grade", result.Grade).
		Int("warnings", len(result.Warnings)).
		Msg("Safety score computed")
	return result, nil
}

// storedDividendHistory aggregates stored dividend events into complete calendar years.
func (s *Service) storedDividendHistory(ctx context.Context, symbol string) []models.DividendPeriod {
	if s.dividends == nil {
		return nil
	}
	now := s.clock.Now().UTC()
	from := time.Date(now.Year()-s.lookbackYears-1, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year()-1, 12, 31, 0, 0, 0, 0, time.UTC)
	events, err := s.dividends.GetDividends(ctx, symbol, from, to)
	if err != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Failed to load stored dividends")
		return nil
	}
	return models.AnnualDividends(events)
}

// BulkUpdate recomputes every symbol needing an update and returns the
// current result for each symbol. Symbols that could not be refreshed keep
// their previous entry, marked stale; failures are joined into the error.
// A cancelled context stops the run with the partial results and ctx.Err().
func (s *Service) BulkUpdate(ctx context.Context, symbols []string) (map[string]models.SafetyResult, error) {
	results := make(map[string]models.SafetyResult, len(symbols))
	var errs []error
	refreshed := 0

	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		r, fresh, err := s.score(ctx, symbol)
		if err != nil && ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			if r == nil {
				continue
			}
		}
		if fresh {
			refreshed++
		}
		results[symbol] = *r
	}

	s.logger.Info().
		Int("symbols", len(symbols)).
		Int("refreshed", refreshed).
		Int("failed", len(errs)).
		Msg("Safety bulk update complete")
	return results, errors.Join(errs...)
}

// score returns the cached result when current, otherwise recomputes.
// On recompute failure a previous entry is returned, marked stale, alongside the error.
func (s *Service) score(ctx context.Context, symbol string) (*models.SafetyResult, bool, error) {
	entry, err := s.entry(ctx, symbol)
	if err != nil {
		return nil, false, err
	}
	if !entry.NeedsUpdate(s.clock.Now(), s.maxAge) {
		r := entry.Result()
		return &r, false, nil
	}

	r, err := s.compute(ctx, symbol)
	if err == nil {
		return &r, true, nil
	}
	if entry != nil {
		s.logger.Warn().Str("symbol", symbol).Err(err).Msg("Safety recompute failed, serving cached score")
		stale := entry.Result()
		stale.Stale = true
		stale.Warnings = append(stale.Warnings, "served from cache: "+err.Error())
		return &stale, false, err
	}
	return nil, false, err
}

// GetSafetyScore returns the cached score for symbol, recomputing it when the
// entry needs an update. A failed recompute serves the previous entry if any.
func (s *Service) GetSafetyScore(ctx context.Context, symbol string) (*models.SafetyResult, error) {
	symbol = models.NormalizeSymbol(symbol)
	r, _, err := s.score(ctx, symbol)
	if r != nil {
		return r, nil
	}
	return nil, err
}

// GetPortfolioSafety scores each symbol and aggregates the results. The
// average covers scored symbols only; unscorable symbols count as unscored.
// A cancelled context stops scoring; the aggregate of the symbols scored so
// far is returned with ctx.Err(), as BulkUpdate does.
func (s *Service) GetPortfolioSafety(ctx context.Context, symbols []string) (*models.PortfolioSafety, error) {
	out := &models.PortfolioSafety{
		Symbols: []string{},
		Results: make(map[string]models.SafetyResult),
		Grade:   models.GradeNotAvailable,
	}

	seen := make(map[string]bool)
	var total float64
	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		if symbol == "" || seen[symbol] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		seen[symbol] = true

		r, err := s.GetSafetyScore(ctx, symbol)
		if err != nil && ctx.Err() != nil {
			break
		}
		out.Symbols = append(out.Symbols, symbol)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", symbol, err))
			out.Distribution.Unscored++
			continue
		}
		out.Results[symbol] = *r

		switch RiskBucket(r.Score) {
		case models.RiskLow:
			out.Distribution.Low++
		case models.RiskModerate:
			out.Distribution.Moderate++
		case models.RiskHigh:
			out.Distribution.High++
		default:
			out.Distribution.Unscored++
		}
		if r.Score > 0 {
			out.ScoredCount++
			total += r.Score
		}
	}

	if out.ScoredCount > 0 {
		out.AverageScore = round2(total / float64(out.ScoredCount))
		out.Grade = Grade(out.AverageScore)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
