package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
	"github.com/bobmcallan/yieldwatch/internal/services/router"
	"github.com/bobmcallan/yieldwatch/internal/services/usage"
	"github.com/bobmcallan/yieldwatch/internal/storage/memory"
)

// --- Mocks ---

type mockProvider struct {
	name string

	mu        sync.Mutex
	calls     int
	failFor   map[string]error
	price     float64
	quoteTime time.Time
	bars      []models.PriceBar
	dividends []models.DividendEvent
	fin       *models.FinancialStatements
	latency   time.Duration
	finCost   int
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{
		name:      name,
		failFor:   map[string]error{},
		price:     100,
		quoteTime: time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC),
	}
}

func (m *mockProvider) Name() string { return m.name }

// RequestCost charges finCost requests for financials when set.
func (m *mockProvider) RequestCost(dataType models.DataType) int {
	if dataType == models.DataFinancialStatements && m.finCost > 0 {
		return m.finCost
	}
	return 1
}

func (m *mockProvider) record(symbol string) error {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.failFor[symbol]
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	if err := m.record(symbol); err != nil {
		return nil, err
	}
	return &models.Quote{Symbol: symbol, CurrentPrice: m.price, QuoteTime: m.quoteTime, Source: m.name}, nil
}

func (m *mockProvider) FetchHistory(_ context.Context, symbol string, _, _ time.Time) ([]models.PriceBar, error) {
	if err := m.record(symbol); err != nil {
		return nil, err
	}
	out := make([]models.PriceBar, len(m.bars))
	copy(out, m.bars)
	return out, nil
}

func (m *mockProvider) FetchDividends(_ context.Context, symbol string, _, _ time.Time) ([]models.DividendEvent, error) {
	if err := m.record(symbol); err != nil {
		return nil, err
	}
	out := make([]models.DividendEvent, len(m.dividends))
	copy(out, m.dividends)
	return out, nil
}

func (m *mockProvider) FetchFinancials(_ context.Context, symbol string, _ int) (*models.FinancialStatements, error) {
	if err := m.record(symbol); err != nil {
		return nil, err
	}
	return m.fin, nil
}

type staticSymbols []string

func (s staticSymbols) ActiveSymbols(context.Context) ([]string, error) { return s, nil }

// failingQuotes wraps a storage manager so that quote writes fail.
type failingQuotes struct {
	interfaces.StorageManager
}

func (f failingQuotes) QuoteStore() interfaces.QuoteStore {
	return failingQuoteStore{f.StorageManager.QuoteStore()}
}

type failingQuoteStore struct {
	interfaces.QuoteStore
}

func (failingQuoteStore) SaveQuote(context.Context, *models.Quote) error {
	return errors.New("disk full")
}

// --- Fixture ---

// Monday 2025-01-06 11:00 New York, market hours
var marketNow = time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Manager
	primary  *mockProvider
	fallback *mockProvider
	svc      *Service
	pauses   atomic.Int32
}

func quota(n int) *int { return &n }

func newFixture(t *testing.T, symbols []string, storage func(*memory.Manager) interfaces.StorageManager, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    memory.NewManager(),
		primary:  newMockProvider(models.ProviderEODHD),
		fallback: newMockProvider(models.ProviderFMP),
	}

	ps := f.store.ProviderStore()
	for _, name := range []string{models.ProviderEODHD, models.ProviderFMP} {
		require.NoError(t, ps.SaveCredential(ctx, &models.ProviderCredential{Provider: name, Active: true, APIKey: "k", DailyQuota: quota(100)}))
	}
	for _, dt := range models.AllDataTypes {
		require.NoError(t, ps.SaveRoute(ctx, &models.ProviderConfig{DataType: dt, PrimaryProvider: models.ProviderEODHD, FallbackProvider: models.ProviderFMP, Active: true}))
	}

	clock := common.FixedClock(marketNow)
	tracker := usage.NewTracker(ps, clock, nil)
	factory := router.ClientFactoryFunc(func(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
		if cred.Provider == models.ProviderEODHD {
			return f.primary, nil
		}
		return f.fallback, nil
	})
	rt := router.NewRouter(ps, tracker, factory, nil)

	cfg := common.NewDefaultConfig()
	policy := common.NewFreshnessPolicy(cfg.Market, cfg.Sync, clock)

	var sm interfaces.StorageManager = f.store
	if storage != nil {
		sm = storage(f.store)
	}
	f.svc = NewService(sm, staticSymbols(symbols), rt, tracker, policy, common.NewSilentLogger(), opts...)
	f.svc.pause = func(ctx context.Context, d time.Duration) error {
		f.pauses.Add(1)
		return ctx.Err()
	}
	return f
}

func (f *fixture) usageOf(t *testing.T, provider string) int {
	t.Helper()
	cred, err := f.store.ProviderStore().GetCredential(context.Background(), provider)
	require.NoError(t, err)
	return cred.UsageCountToday
}

func reachedErr(provider string) error {
	return common.NewStatusError(provider, "/quote", 500, "boom")
}

func transportErr(provider string) error {
	return common.NewTransportError(provider, "/quote", errors.New("connection refused"))
}

// --- Tests ---

func TestSyncQuotes_FreshnessIdempotence(t *testing.T) {
	f := newFixture(t, []string{"AAPL", "MSFT", "KO"}, nil)
	ctx := context.Background()

	first, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, 3, first.Updated)
	assert.NotEmpty(t, first.RunID)

	second, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Total)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 3, f.primary.Calls(), "fresh symbols must not be refetched")
}

func TestSyncQuotes_ForceBypassesFreshness(t *testing.T) {
	f := newFixture(t, []string{"AAPL", "MSFT"}, nil)
	ctx := context.Background()

	_, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)

	forced, err := f.svc.SyncQuotes(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Updated)
	assert.Equal(t, 4, f.primary.Calls())
}

func TestSyncQuotes_PersistsQuoteAndBookkeeping(t *testing.T) {
	f := newFixture(t, []string{" aapl "}, nil)
	ctx := context.Background()

	_, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)

	quote, err := f.store.QuoteStore().GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.CurrentPrice)
	assert.Equal(t, common.MarketStateRegular, quote.MarketState)
	assert.True(t, quote.FetchedAt.Equal(marketNow))

	rec, err := f.store.SymbolStore().GetSymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, rec.QuoteFetchedAt.Equal(marketNow))
	assert.True(t, rec.FirstSeen.Equal(marketNow))
	assert.Equal(t, 1, f.usageOf(t, models.ProviderEODHD))
}

func TestSyncQuotes_OlderQuoteKeepsStoredPrice(t *testing.T) {
	f := newFixture(t, []string{"AAPL"}, nil)
	ctx := context.Background()

	newer := marketNow.Add(time.Hour)
	require.NoError(t, f.store.QuoteStore().SaveQuote(ctx, &models.Quote{Symbol: "AAPL", CurrentPrice: 250, QuoteTime: newer}))

	_, err := f.svc.SyncQuotes(ctx, true)
	require.NoError(t, err)

	quote, err := f.store.QuoteStore().GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 250.0, quote.CurrentPrice)
	assert.True(t, quote.QuoteTime.Equal(newer))
	assert.True(t, quote.FetchedAt.Equal(marketNow))
}

func TestSyncQuotes_PrimaryExhaustedUsesFallbackOnly(t *testing.T) {
	f := newFixture(t, []string{"AAPL"}, nil)
	ctx := context.Background()
	_, err := f.store.ProviderStore().UpdateCredential(ctx, models.ProviderEODHD, func(c *models.ProviderCredential) error {
		c.DailyQuota = quota(0)
		return nil
	})
	require.NoError(t, err)

	result, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, f.primary.Calls(), "primary must not be attempted")
	assert.Equal(t, 1, f.fallback.Calls())
}

func TestSyncQuotes_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t, []string{"A", "B", "C"}, nil)
	f.primary.failFor["B"] = transportErr(models.ProviderEODHD)
	f.fallback.failFor["B"] = transportErr(models.ProviderFMP)

	result, err := f.svc.SyncQuotes(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "B: "), result.Errors[0])
	assert.True(t, result.HasFailures())
}

func TestSyncQuotes_FallbackOnPrimaryErrorAndUsageAccounting(t *testing.T) {
	f := newFixture(t, []string{"AAPL", "MSFT"}, nil)
	f.primary.failFor["AAPL"] = reachedErr(models.ProviderEODHD)
	f.primary.failFor["MSFT"] = transportErr(models.ProviderEODHD)

	result, err := f.svc.SyncQuotes(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 2, f.fallback.Calls())

	// the status error reached eodhd, the transport error did not
	assert.Equal(t, 1, f.usageOf(t, models.ProviderEODHD))
	assert.Equal(t, 2, f.usageOf(t, models.ProviderFMP))
}

func TestSyncQuotes_NoProviderAvailable(t *testing.T) {
	f := newFixture(t, []string{"AAPL"}, nil)
	ctx := context.Background()
	for _, name := range []string{models.ProviderEODHD, models.ProviderFMP} {
		_, err := f.store.ProviderStore().UpdateCredential(ctx, name, func(c *models.ProviderCredential) error {
			c.Active = false
			return nil
		})
		require.NoError(t, err)
	}

	result, err := f.svc.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"AAPL: no provider available"}, result.Errors)
}

func TestSyncQuotes_PersistenceErrorCountsAsFailure(t *testing.T) {
	f := newFixture(t, []string{"AAPL"}, func(m *memory.Manager) interfaces.StorageManager {
		return failingQuotes{m}
	})

	result, err := f.svc.SyncQuotes(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0], "disk full")

	rec, err := f.store.SymbolStore().GetSymbol(context.Background(), "AAPL")
	if err == nil {
		assert.True(t, rec.QuoteFetchedAt.IsZero(), "failed persist must not mark the symbol fetched")
	}
}

func TestSyncQuotes_PausesBetweenExternalCalls(t *testing.T) {
	f := newFixture(t, []string{"A", "B", "C"}, nil)
	f.primary.failFor["B"] = reachedErr(models.ProviderEODHD)

	_, err := f.svc.SyncQuotes(context.Background(), false)
	require.NoError(t, err)
	// four external calls: A, B (primary), B (fallback), C
	assert.Equal(t, int32(3), f.pauses.Load())
}

func TestSyncQuotes_WorkerPool(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	f := newFixture(t, symbols, nil, WithWorkers(4))

	result, err := f.svc.SyncQuotes(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 10, result.Updated)
	assert.Equal(t, 10, f.usageOf(t, models.ProviderEODHD))
}

func TestSyncQuotes_WorkerPoolRespectsDailyQuota(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F"}
	f := newFixture(t, symbols, nil, WithWorkers(6))
	ctx := context.Background()
	for name, limit := range map[string]int{models.ProviderEODHD: 2, models.ProviderFMP: 1} {
		limit := limit
		_, err := f.store.ProviderStore().UpdateCredential(ctx, name, func(c *models.ProviderCredential) error {
			c.DailyQuota = quota(limit)
			return nil
		})
		require.NoError(t, err)
	}
	f.primary.latency = 20 * time.Millisecond
	f.fallback.latency = 20 * time.Millisecond

	result, err := f.svc.SyncQuotes(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 2, f.primary.Calls())
	assert.Equal(t, 1, f.fallback.Calls())
	assert.Equal(t, 2, f.usageOf(t, models.ProviderEODHD))
	assert.Equal(t, 1, f.usageOf(t, models.ProviderFMP))
	for _, e := range result.Errors {
		assert.Contains(t, e, "no provider available")
	}
}

func TestSyncQuotes_Cancellation(t *testing.T) {
	f := newFixture(t, []string{"A", "B", "C"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.pause = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := f.svc.SyncQuotes(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Failed, "interrupted symbols are not failures")
}

func TestSyncQuotesFor_ExplicitSymbols(t *testing.T) {
	f := newFixture(t, []string{"HELD"}, nil)

	result, err := f.svc.SyncQuotesFor(context.Background(), []string{"x", "X", "", "y"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)

	_, err = f.store.QuoteStore().GetQuote(context.Background(), "HELD")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSyncHistoricalPrices_DailyFreshness(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	f.primary.bars = []models.PriceBar{
		{Date: day(2), Close: 61.8},
		{Date: day(3), Close: 62.5},
	}
	ctx := context.Background()

	result, err := f.svc.SyncHistoricalPrices(ctx, 30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	bars, err := f.store.PriceStore().GetBars(ctx, "KO", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "KO", bars[0].Symbol)

	again, err := f.svc.SyncHistoricalPrices(ctx, 30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped, "history is refreshed once per market day")
}

func TestSyncDividends(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	f.primary.dividends = []models.DividendEvent{
		{ExDate: time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC), Amount: 0.485, Type: models.DividendRegular},
	}
	ctx := context.Background()

	result, err := f.svc.SyncDividends(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	events, err := f.store.DividendStore().GetDividends(ctx, "KO", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0.485, events[0].Amount)
}

func TestGetFreshnessStats(t *testing.T) {
	f := newFixture(t, []string{"AAPL", "MSFT", "KO"}, nil)
	ctx := context.Background()

	_, err := f.svc.SyncQuotesFor(ctx, []string{"AAPL"}, false)
	require.NoError(t, err)
	require.NoError(t, f.store.QuoteStore().SaveQuote(ctx, &models.Quote{Symbol: "MSFT", CurrentPrice: 400, FetchedAt: marketNow.Add(-time.Hour)}))

	stats, err := f.svc.GetFreshnessStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalStocks)
	assert.Equal(t, 1, stats.FreshData)
	assert.Equal(t, 1, stats.StaleData)
	assert.Equal(t, 1, stats.MissingData)
	require.NotNil(t, stats.OldestDataTimestamp)
	require.NotNil(t, stats.NewestDataTimestamp)
	assert.True(t, stats.OldestDataTimestamp.Equal(marketNow.Add(-time.Hour)))
	assert.True(t, stats.NewestDataTimestamp.Equal(marketNow))
	assert.Equal(t, string(common.SessionMarketHours), stats.Session)

	quotes := stats.ByDataType[models.DataQuotes]
	assert.Equal(t, 1, quotes.Fresh)
	assert.Equal(t, 2, quotes.Missing)
}

func TestFetchFinancials_Fallback(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	f.primary.failFor["KO"] = reachedErr(models.ProviderEODHD)
	f.fallback.fin = &models.FinancialStatements{Income: []models.IncomeStatement{{NetIncome: 10}}}

	fin, err := f.svc.FetchFinancials(context.Background(), "ko")
	require.NoError(t, err)
	assert.Equal(t, "KO", fin.Symbol)
	assert.Equal(t, models.ProviderFMP, fin.Source)
	assert.True(t, fin.FetchedAt.Equal(marketNow))

	rec, err := f.store.SymbolStore().GetSymbol(context.Background(), "KO")
	require.NoError(t, err)
	assert.True(t, rec.FinancialsFetchedAt.Equal(marketNow))
}

func TestFetchFinancials_ChargesEveryStatementRequest(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	f.primary.finCost = 3
	f.primary.fin = &models.FinancialStatements{Income: []models.IncomeStatement{{NetIncome: 10}}}

	_, err := f.svc.FetchFinancials(context.Background(), "KO")
	require.NoError(t, err)
	assert.Equal(t, 3, f.usageOf(t, models.ProviderEODHD))
}

func TestFetchFinancials_InsufficientQuotaForAllStatements(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	ctx := context.Background()
	_, err := f.store.ProviderStore().UpdateCredential(ctx, models.ProviderEODHD, func(c *models.ProviderCredential) error {
		c.DailyQuota = quota(2)
		return nil
	})
	require.NoError(t, err)
	f.primary.finCost = 3
	f.fallback.fin = &models.FinancialStatements{Income: []models.IncomeStatement{{NetIncome: 10}}}

	fin, err := f.svc.FetchFinancials(ctx, "KO")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderFMP, fin.Source)
	assert.Equal(t, 0, f.primary.Calls())
	assert.Equal(t, 0, f.usageOf(t, models.ProviderEODHD))
}

func TestFetchFinancials_PacedAcrossCalls(t *testing.T) {
	f := newFixture(t, []string{"KO", "PEP", "MO"}, nil, WithRequestDelay(time.Hour))
	f.primary.fin = &models.FinancialStatements{Income: []models.IncomeStatement{{NetIncome: 10}}}

	for _, symbol := range []string{"KO", "PEP", "MO"} {
		_, err := f.svc.FetchFinancials(context.Background(), symbol)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), f.pauses.Load())
}

func TestFetchFinancials_AllProvidersFail(t *testing.T) {
	f := newFixture(t, []string{"KO"}, nil)
	f.primary.failFor["KO"] = reachedErr(models.ProviderEODHD)
	f.fallback.failFor["KO"] = reachedErr(models.ProviderFMP)

	_, err := f.svc.FetchFinancials(context.Background(), "KO")
	require.Error(t, err)
	var perr *common.ProviderError
	assert.True(t, errors.As(err, &perr))
}
