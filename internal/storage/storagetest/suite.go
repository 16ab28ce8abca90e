// Package storagetest holds the behavioural checks every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Factory returns a fresh, empty storage manager for one subtest.
type Factory func(t *testing.T) interfaces.StorageManager

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Run exercises every store exposed by the manager.
func Run(t *testing.T, newManager Factory) {
	t.Run("Quotes", func(t *testing.T) { testQuotes(t, newManager(t)) })
	t.Run("PriceBars", func(t *testing.T) { testPriceBars(t, newManager(t)) })
	t.Run("Dividends", func(t *testing.T) { testDividends(t, newManager(t)) })
	t.Run("Symbols", func(t *testing.T) { testSymbols(t, newManager(t)) })
	t.Run("Safety", func(t *testing.T) { testSafety(t, newManager(t)) })
	t.Run("Credentials", func(t *testing.T) { testCredentials(t, newManager(t)) })
	t.Run("CredentialConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, newManager(t)) })
	t.Run("Routes", func(t *testing.T) { testRoutes(t, newManager(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newManager(t)) })
}

func testQuotes(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.QuoteStore()

	_, err := store.GetQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	qt := time.Date(2025, 1, 6, 15, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveQuote(ctx, &models.Quote{Symbol: "AAPL", CurrentPrice: 190.5, QuoteTime: qt, MarketState: "REGULAR"}))
	require.NoError(t, store.SaveQuote(ctx, &models.Quote{Symbol: "AAPL", CurrentPrice: 191.0, QuoteTime: qt.Add(time.Minute)}))
	require.NoError(t, store.SaveQuote(ctx, &models.Quote{Symbol: "KO", CurrentPrice: 62}))

	got, err := store.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 191.0, got.CurrentPrice)
	assert.True(t, got.QuoteTime.Equal(qt.Add(time.Minute)))

	all, err := store.ListQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "AAPL", all[0].Symbol)
	assert.Equal(t, "KO", all[1].Symbol)
}

func testPriceBars(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.PriceStore()

	bars := []models.PriceBar{
		{Symbol: "KO", Date: day(2025, 1, 3), Close: 61},
		{Symbol: "KO", Date: day(2025, 1, 2), Close: 60},
		{Symbol: "KO", Date: day(2025, 1, 6), Close: 62},
		{Symbol: "PEP", Date: day(2025, 1, 2), Close: 150},
	}
	require.NoError(t, store.UpsertBars(ctx, bars))
	// backfill upsert replaces the existing bar for the same date
	require.NoError(t, store.UpsertBars(ctx, []models.PriceBar{{Symbol: "KO", Date: day(2025, 1, 3), Close: 61.5}}))

	all, err := store.GetBars(ctx, "KO", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3, "at most one bar per (symbol, date)")
	assert.True(t, all[0].Date.Equal(day(2025, 1, 2)))
	assert.Equal(t, 61.5, all[1].Close)

	window, err := store.GetBars(ctx, "KO", day(2025, 1, 3), day(2025, 1, 5))
	require.NoError(t, err)
	require.Len(t, window, 1)

	latest, err := store.LatestBar(ctx, "KO")
	require.NoError(t, err)
	assert.Equal(t, 62.0, latest.Close)

	_, err = store.LatestBar(ctx, "MSFT")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testDividends(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.DividendStore()

	events := []models.DividendEvent{
		{Symbol: "KO", ExDate: day(2024, 3, 14), Amount: 0.485, Type: models.DividendRegular},
		{Symbol: "KO", ExDate: day(2024, 6, 14), Amount: 0.485, Type: models.DividendRegular},
		{Symbol: "KO", ExDate: day(2024, 6, 14), Amount: 0.49, Type: models.DividendRegular},
	}
	require.NoError(t, store.UpsertDividends(ctx, events))

	got, err := store.GetDividends(ctx, "KO", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.49, got[1].Amount)

	since, err := store.GetDividends(ctx, "KO", day(2024, 5, 1), time.Time{})
	require.NoError(t, err)
	assert.Len(t, since, 1)

	none, err := store.GetDividends(ctx, "PEP", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSymbols(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.SymbolStore()
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

	_, err := store.GetSymbol(ctx, "KO")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.SaveSymbol(ctx, &models.SymbolRecord{Symbol: "KO", FirstSeen: now, QuoteFetchedAt: now}))
	require.NoError(t, store.SaveSymbol(ctx, &models.SymbolRecord{Symbol: "PEP", FirstSeen: now, QuoteFetchedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.SaveSymbol(ctx, &models.SymbolRecord{Symbol: "AAPL", FirstSeen: now}))

	got, err := store.GetSymbol(ctx, "KO")
	require.NoError(t, err)
	assert.True(t, got.QuoteFetchedAt.Equal(now))

	stale, err := store.FindStale(ctx, models.DataQuotes, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "PEP"}, stale)

	all, err := store.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testSafety(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.SafetyStore()
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

	_, err := store.GetSafety(ctx, "KO")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	entry := &models.SafetyCacheEntry{
		Symbol:      "KO",
		Score:       78.25,
		Grade:       "B",
		Factors:     models.SafetyFactors{PayoutRatio: models.SafetyFactor{Value: 0.6, Score: 66.7, Weight: 0.25, Computable: true}},
		Warnings:    []string{"debt-to-equity unavailable"},
		LastUpdated: now,
	}
	require.NoError(t, store.SaveSafety(ctx, entry))

	got, err := store.GetSafety(ctx, "KO")
	require.NoError(t, err)
	assert.Equal(t, 78.25, got.Score)
	assert.Equal(t, "B", got.Grade)
	assert.Equal(t, []string{"debt-to-equity unavailable"}, got.Warnings)
	assert.InDelta(t, 66.7, got.Factors.PayoutRatio.Score, 1e-9)
	assert.True(t, got.LastUpdated.Equal(now))

	list, err := store.ListSafety(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testCredentials(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.ProviderStore()
	quota := 20

	_, err := store.UpdateCredential(ctx, "eodhd", func(*models.ProviderCredential) error { return nil })
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.SaveCredential(ctx, &models.ProviderCredential{Provider: "eodhd", Active: true, APIKey: "k", DailyQuota: &quota}))
	require.NoError(t, store.SaveCredential(ctx, &models.ProviderCredential{Provider: "fmp", Active: false}))

	updated, err := store.UpdateCredential(ctx, "eodhd", func(c *models.ProviderCredential) error {
		c.UsageCountToday++
		c.UsageResetDate = "2025-01-06"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UsageCountToday)

	got, err := store.GetCredential(ctx, "eodhd")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCountToday)
	assert.Equal(t, "2025-01-06", got.UsageResetDate)
	require.NotNil(t, got.DailyQuota)
	assert.Equal(t, 20, *got.DailyQuota)

	boom := errors.New("boom")
	_, err = store.UpdateCredential(ctx, "eodhd", func(c *models.ProviderCredential) error {
		c.UsageCountToday = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ = store.GetCredential(ctx, "eodhd")
	assert.Equal(t, 1, got.UsageCountToday, "failed update must not persist")

	all, err := store.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "eodhd", all[0].Provider)
	assert.Nil(t, all[1].DailyQuota)
}

func testConcurrentUpdate(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.ProviderStore()
	require.NoError(t, store.SaveCredential(ctx, &models.ProviderCredential{Provider: "fmp", Active: true}))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateCredential(ctx, "fmp", func(c *models.ProviderCredential) error {
				c.UsageCountToday++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetCredential(ctx, "fmp")
	require.NoError(t, err)
	assert.Equal(t, workers, got.UsageCountToday)
}

func testRoutes(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.ProviderStore()

	_, err := store.GetRoute(ctx, models.DataQuotes)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.SaveRoute(ctx, &models.ProviderConfig{DataType: models.DataQuotes, PrimaryProvider: "eodhd", FallbackProvider: "fmp", Active: true}))
	got, err := store.GetRoute(ctx, models.DataQuotes)
	require.NoError(t, err)
	assert.Equal(t, "eodhd", got.PrimaryProvider)
	assert.Equal(t, "fmp", got.FallbackProvider)
	assert.True(t, got.Active)
}

func testTransactions(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.TransactionStore()

	for i, sym := range []string{"KO", "PEP", "KO"} {
		tx := &models.Transaction{
			ID:        fmt.Sprintf("tx-%d", i),
			Portfolio: "income",
			Symbol:    sym,
			Type:      models.TxBuy,
			Quantity:  decimal.NewFromInt(10),
			Price:     decimal.RequireFromString("60.25"),
			Date:      day(2024, 1, 10-i),
		}
		require.NoError(t, store.SaveTransaction(ctx, tx))
	}
	require.NoError(t, store.SaveTransaction(ctx, &models.Transaction{ID: "other", Portfolio: "growth", Symbol: "MSFT", Type: models.TxBuy, Quantity: decimal.NewFromInt(1), Date: day(2024, 1, 1)}))

	income, err := store.ListTransactions(ctx, "income")
	require.NoError(t, err)
	require.Len(t, income, 3)
	assert.Equal(t, "tx-2", income[0].ID, "ordered by date")
	assert.True(t, income[0].Price.Equal(decimal.RequireFromString("60.25")))

	all, err := store.ListTransactions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, store.DeleteTransaction(ctx, "tx-0"))
	assert.ErrorIs(t, store.DeleteTransaction(ctx, "tx-0"), interfaces.ErrNotFound)
}
