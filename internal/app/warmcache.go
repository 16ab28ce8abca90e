package app

import (
	"context"
	"os"
	"time"
)

// StartWarmCache refreshes stale quotes and safety scores for held symbols in
// the background so the first API read is current. Set
// YIELDWATCH_WARM_CACHE=off to disable it.
func (a *App) StartWarmCache() {
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	a.warmCacheCancel = warmCancel
	go func() {
		defer warmCancel()
		a.warmCache(warmCtx)
	}()
}

func (a *App) warmCache(ctx context.Context) {
	if os.Getenv("YIELDWATCH_WARM_CACHE") == "off" {
		a.Logger.Info().Msg("Warm cache: disabled via YIELDWATCH_WARM_CACHE=off")
		return
	}

	start := time.Now()
	symbols, err := a.Holdings.ActiveSymbols(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Warm cache: failed to list held symbols")
		return
	}
	if len(symbols) == 0 {
		a.Logger.Info().Msg("Warm cache: no held symbols, skipping")
		return
	}

	quotes, err := a.Market.SyncQuotesFor(ctx, symbols, false)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Warm cache: quote sync interrupted")
		return
	}

	// Only symbols whose cached score has expired are recomputed.
	var stale []string
	for _, symbol := range symbols {
		needs, err := a.Safety.NeedsUpdate(ctx, symbol)
		if err != nil {
			a.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Warm cache: safety cache read failed")
			continue
		}
		if needs {
			stale = append(stale, symbol)
		}
	}
	if len(stale) > 0 {
		if _, err := a.Safety.BulkUpdate(ctx, stale); err != nil {
			a.Logger.Warn().Err(err).Msg("Warm cache: some safety scores failed")
		}
	}

	a.Logger.Info().
		Int("symbols", len(symbols)).
		Int("quotes_updated", quotes.Updated).
		Int("safety_refreshed", len(stale)).
		Str("elapsed", time.Since(start).String()).
		Msg("Warm cache: complete")
}
