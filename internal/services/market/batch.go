package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// syncJob describes one data type's fetch and persist steps.
type syncJob[T any] struct {
	dataType models.DataType
	daily    bool // freshness evaluated per market-local calendar day
	fetch    func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) (T, error)
	persist  func(ctx context.Context, symbol string, v T, now time.Time) error
}

type symbolOutcome struct {
	symbol  string
	outcome models.Outcome
	err     error
}

// pacer inserts the request delay between consecutive external calls.
// Batch workers each own one and always pause the full delay. The service
// keeps a shared one for financials, which only waits out what remains of
// the delay since the previous call.
type pacer struct {
	s         *Service
	remainder bool

	mu   sync.Mutex
	last time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		d := p.s.requestDelay
		if p.remainder {
			d -= time.Since(p.last)
		}
		if !p.remainder || d > 0 {
			if err := p.s.pause(ctx, d); err != nil {
				return err
			}
		}
	}
	p.last = time.Now()
	return nil
}

// runBatch processes every symbol independently and aggregates the outcomes.
// A cancelled context stops the batch; the partial result is returned with ctx.Err().
func runBatch[T any](ctx context.Context, s *Service, symbols []string, force bool, job syncJob[T]) (*models.BatchResult, error) {
	runID := uuid.New().String()
	logger := s.logger.WithCorrelationId(runID)
	result := &models.BatchResult{
		RunID:     runID,
		DataType:  job.dataType,
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}

	logger.Info().
		Str("data_type", string(job.dataType)).
		Int("symbols", len(symbols)).
		Bool("force", force).
		Int("workers", s.workers).
		Msg("Sync batch starting")

	work := make(chan string)
	outcomes := make(chan symbolOutcome)

	workers := s.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &pacer{s: s}
			for symbol := range work {
				outcome, err := processSymbol(ctx, s, logger, p, symbol, force, job)
				outcomes <- symbolOutcome{symbol: symbol, outcome: outcome, err: err}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, symbol := range symbols {
			select {
			case work <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		// symbols interrupted by cancellation are left for the next run
		if ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
			continue
		}
		result.Record(o.symbol, o.outcome, o.err)
	}

	result.FinishedAt = time.Now().UTC()
	logger.Info().
		Str("data_type", string(job.dataType)).
		Int("total", result.Total).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Str("elapsed", result.FinishedAt.Sub(result.StartedAt).String()).
		Msg("Sync batch complete")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// processSymbol runs freshness, routing, fetch with a single fallback, and
// persistence for one symbol. Returned errors describe failures; they never abort the batch.
func processSymbol[T any](ctx context.Context, s *Service, logger *common.Logger, p *pacer, symbol string, force bool, job syncJob[T]) (models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return models.OutcomeFailed, err
	}
	now := s.policy.Now()

	rec, err := s.loadSymbol(ctx, symbol, now)
	if err != nil {
		return models.OutcomeFailed, err
	}

	last := rec.FetchedAt(job.dataType)
	stale := s.policy.IsStale(last, force)
	if job.daily {
		stale = s.policy.IsStaleDaily(last, force)
	}
	if !stale {
		return models.OutcomeSkipped, nil
	}

	route, err := s.router.Route(ctx, job.dataType)
	if err != nil {
		logger.Warn().Str("symbol", symbol).Str("data_type", string(job.dataType)).Err(err).Msg("No provider for symbol")
		if errors.Is(err, common.ErrNoProviderAvailable) {
			return models.OutcomeFailed, common.ErrNoProviderAvailable
		}
		return models.OutcomeFailed, err
	}

	value, provider, err := fetchWithFallback(ctx, s, logger, p, route, symbol, job.dataType, job.fetch)
	if err != nil {
		return models.OutcomeFailed, err
	}

	if err := job.persist(ctx, symbol, value, now); err != nil {
		logger.Error().Str("symbol", symbol).Str("provider", provider).Str("data_type", string(job.dataType)).Err(err).Msg("Persist failed")
		return models.OutcomeFailed, err
	}

	rec.MarkFetched(job.dataType, now.UTC())
	if err := s.storage.SymbolStore().SaveSymbol(ctx, rec); err != nil {
		logger.Error().Str("symbol", symbol).Err(err).Msg("Save symbol record failed")
		return models.OutcomeFailed, fmt.Errorf("save symbol record: %w", err)
	}

	logger.Debug().Str("symbol", symbol).Str("provider", provider).Str("data_type", string(job.dataType)).Msg("Symbol updated")
	return models.OutcomeUpdated, nil
}

// fetchWithFallback tries the route's primary, then its fallback exactly once.
// Quota is reserved before each attempt and handed back when the attempt
// never reached the provider.
func fetchWithFallback[T any](
	ctx context.Context,
	s *Service,
	logger *common.Logger,
	p *pacer,
	route *interfaces.Route,
	symbol string,
	dataType models.DataType,
	fetch func(ctx context.Context, p interfaces.MarketDataProvider, symbol string) (T, error),
) (T, string, error) {
	var zero T
	providers := []interfaces.MarketDataProvider{route.Primary}
	if route.Fallback != nil {
		providers = append(providers, route.Fallback)
	}

	var errs []error
	for _, provider := range providers {
		name := provider.Name()
		cost := interfaces.RequestCost(provider, dataType)

		ok, err := s.usage.TryAcquire(ctx, name, cost)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			logger.Debug().Str("symbol", symbol).Str("provider", name).Int("requests", cost).Msg("Provider quota taken by another request")
			errs = append(errs, fmt.Errorf("%s: %w: daily quota exhausted", name, common.ErrNoProviderAvailable))
			continue
		}

		if err := p.wait(ctx); err != nil {
			release(s, logger, name, cost)
			return zero, "", err
		}

		value, err := fetch(ctx, provider, symbol)
		if err != nil && !common.ReachedProvider(err) {
			release(s, logger, name, cost)
		}
		if err == nil {
			return value, name, nil
		}
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}

		logger.Warn().
			Str("symbol", symbol).
			Str("provider", name).
			Str("data_type", string(dataType)).
			Bool("reached", common.ReachedProvider(err)).
			Err(err).
			Msg("Provider fetch failed")
		errs = append(errs, err)
	}
	if len(errs) == 1 {
		return zero, "", errs[0]
	}
	return zero, "", fmt.Errorf("%w; fallback: %w", errs[0], errs[1])
}

// release hands back a reservation. It runs on a fresh context so a
// cancelled batch still returns quota it did not use.
func release(s *Service, logger *common.Logger, provider string, n int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.usage.Release(ctx, provider, n); err != nil {
		logger.Warn().Str("provider", provider).Err(err).Msg("Failed to release provider quota")
	}
}
