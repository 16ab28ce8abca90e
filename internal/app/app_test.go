package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
	"github.com/bobmcallan/yieldwatch/internal/services/router"
	"github.com/bobmcallan/yieldwatch/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC) // Tuesday, 10:00 New York

// fakeProvider answers every data type with fixed data.
type fakeProvider struct{ name string }

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	return &models.Quote{Symbol: symbol, CurrentPrice: 61.25, QuoteTime: testNow, Source: f.name}, nil
}

func (f *fakeProvider) FetchHistory(_ context.Context, symbol string, from, _ time.Time) ([]models.PriceBar, error) {
	return []models.PriceBar{{Symbol: symbol, Date: from, Close: 60}}, nil
}

func (f *fakeProvider) FetchDividends(_ context.Context, symbol string, from, _ time.Time) ([]models.DividendEvent, error) {
	return []models.DividendEvent{{Symbol: symbol, ExDate: from, Amount: 0.5}}, nil
}

func (f *fakeProvider) FetchFinancials(_ context.Context, symbol string, _ int) (*models.FinancialStatements, error) {
	year := func(y int) time.Time { return time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC) }
	return &models.FinancialStatements{
		Symbol:    symbol,
		Income:    []models.IncomeStatement{{PeriodEnd: year(2024), NetIncome: 100}, {PeriodEnd: year(2023), NetIncome: 95}},
		Balance:   []models.BalanceSheet{{PeriodEnd: year(2024), TotalDebt: 50, ShareholderEquity: 100}},
		CashFlow:  []models.CashFlowStatement{{PeriodEnd: year(2024), FreeCashFlow: 120, DividendsPaid: 40}},
		Dividends: []models.DividendPeriod{{Year: 2024, PerShare: 2}, {Year: 2023, PerShare: 1.9}},
		Source:    f.name,
	}, nil
}

var fakeFactory = router.ClientFactoryFunc(func(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
	return &fakeProvider{name: cred.Provider}, nil
})

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = common.BackendMemory
	cfg.Sync.RequestDelay = "0s"
	cfg.Providers.EODHD.APIKey = "eodhd-key"
	cfg.Providers.FMP.APIKey = "fmp-key"
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(), Options{
		Clock:   common.FixedClock(testNow),
		Factory: fakeFactory,
		Logger:  common.NewSilentLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func buy(t *testing.T, a *App, symbol string) {
	t.Helper()
	require.NoError(t, a.Storage.TransactionStore().SaveTransaction(context.Background(), &models.Transaction{
		ID:        "buy-" + symbol,
		Portfolio: "main",
		Symbol:    symbol,
		Type:      models.TxBuy,
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(60),
		Date:      testNow.AddDate(0, -1, 0),
	}))
}

func TestNew_InitializesAllServices(t *testing.T) {
	a := newTestApp(t)

	if a.Config == nil {
		t.Error("Config is nil")
	}
	if a.Logger == nil {
		t.Error("Logger is nil")
	}
	if a.Storage == nil {
		t.Error("Storage is nil")
	}
	assert.NotNil(t, a.Policy)
	assert.NotNil(t, a.Usage)
	assert.NotNil(t, a.Router)
	assert.NotNil(t, a.Holdings)
	assert.NotNil(t, a.Market)
	assert.NotNil(t, a.Safety)
	assert.False(t, a.StartupTime.IsZero())
	assert.Equal(t, common.BackendMemory, a.Storage.Backend())
}

func TestNew_SeedsCredentialsAndRoutes(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	cred, err := a.Storage.ProviderStore().GetCredential(ctx, models.ProviderEODHD)
	require.NoError(t, err)
	assert.True(t, cred.Active)
	assert.Equal(t, "eodhd-key", cred.APIKey)
	require.NotNil(t, cred.DailyQuota)
	assert.Equal(t, 20, *cred.DailyQuota)

	route, err := a.Storage.ProviderStore().GetRoute(ctx, models.DataDividends)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderEODHD, route.PrimaryProvider)
	assert.Equal(t, models.ProviderFMP, route.FallbackProvider)
	assert.True(t, route.Active)
}

func TestSeedProviders_PreservesUsageAndStoredKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewManager().ProviderStore()
	require.NoError(t, store.SaveCredential(ctx, &models.ProviderCredential{
		Provider:        models.ProviderAlphaVantage,
		APIKey:          "stored-key",
		UsageCountToday: 7,
		UsageResetDate:  "2025-03-04",
	}))

	cfg := testConfig()
	cfg.Providers.AlphaVantage.RequestsPerDay = 0
	require.NoError(t, seedProviders(ctx, store, cfg, common.NewSilentLogger()))

	cred, err := store.GetCredential(ctx, models.ProviderAlphaVantage)
	require.NoError(t, err)
	assert.Equal(t, 7, cred.UsageCountToday)
	assert.Equal(t, "2025-03-04", cred.UsageResetDate)
	assert.Equal(t, "stored-key", cred.APIKey)
	assert.Nil(t, cred.DailyQuota, "zero requests_per_day means unlimited")
	assert.Equal(t, 5, cred.RequestsPerMinute)
}

func TestApp_SyncQuotesForHeldSymbols(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	buy(t, a, "ko")

	result, err := a.Market.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Updated)

	quote, err := a.Storage.QuoteStore().GetQuote(ctx, "KO")
	require.NoError(t, err)
	assert.Equal(t, 61.25, quote.CurrentPrice)
	assert.Equal(t, models.ProviderEODHD, quote.Source)

	again, err := a.Market.SyncQuotes(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Updated)
	assert.Equal(t, 1, again.Skipped)
}

func TestRefreshSafety_DefaultsToHeldSymbols(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	buy(t, a, "KO")
	buy(t, a, "PEP")

	results, err := a.RefreshSafety(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results["KO"].Score, 0.0)

	cached, err := a.Safety.Get(ctx, "PEP")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, results["PEP"].Score, cached.Score)
}

func TestWarmCache_RefreshesHeldSymbols(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	buy(t, a, "KO")

	a.warmCache(ctx)

	_, err := a.Storage.QuoteStore().GetQuote(ctx, "KO")
	assert.NoError(t, err)
	needs, err := a.Safety.NeedsUpdate(ctx, "KO")
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestWarmCache_DisabledByEnv(t *testing.T) {
	t.Setenv("YIELDWATCH_WARM_CACHE", "off")
	a := newTestApp(t)
	ctx := context.Background()
	buy(t, a, "KO")

	a.warmCache(ctx)

	_, err := a.Storage.QuoteStore().GetQuote(ctx, "KO")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestNewScheduler_RegistersConfiguredJobs(t *testing.T) {
	a := newTestApp(t)

	s, err := NewScheduler(a, a.Config.Scheduler)
	require.NoError(t, err)
	assert.Equal(t, []string{"quotes", "historical", "dividends", "safety"}, s.Jobs())

	cfg := a.Config.Scheduler
	cfg.HistoricalCron = ""
	cfg.SafetyCron = ""
	s, err = NewScheduler(a, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"quotes", "dividends"}, s.Jobs())
}

func TestNewScheduler_RejectsInvalidExpression(t *testing.T) {
	a := newTestApp(t)
	cfg := a.Config.Scheduler
	cfg.DividendsCron = "every morning"

	_, err := NewScheduler(a, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dividends")
}

func TestStartScheduler_DisabledIsNoop(t *testing.T) {
	a := newTestApp(t)
	a.Config.Scheduler.Enabled = false

	require.NoError(t, a.StartScheduler())
	assert.Nil(t, a.scheduler)
}

func TestStartScheduler_StartsAndStops(t *testing.T) {
	a := newTestApp(t)

	require.NoError(t, a.StartScheduler())
	require.NotNil(t, a.scheduler)
	a.Close()
	assert.Nil(t, a.scheduler)
}

// blockingProvider holds every quote request until its context ends.
type blockingProvider struct {
	fakeProvider
	started chan struct{}
	once    sync.Once
}

func (b *blockingProvider) FetchQuote(ctx context.Context, _ string) (*models.Quote, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, common.NewTransportError(b.name, "/quote", ctx.Err())
}

func TestSchedulerStop_CancelsRunningJob(t *testing.T) {
	provider := &blockingProvider{fakeProvider: fakeProvider{name: models.ProviderEODHD}, started: make(chan struct{})}
	cfg := testConfig()
	cfg.Scheduler.QuotesCron = "@every 1s"
	cfg.Scheduler.HistoricalCron = ""
	cfg.Scheduler.DividendsCron = ""
	cfg.Scheduler.SafetyCron = ""
	a, err := New(context.Background(), cfg, Options{
		Clock: common.FixedClock(testNow),
		Factory: router.ClientFactoryFunc(func(*models.ProviderCredential) (interfaces.MarketDataProvider, error) {
			return provider, nil
		}),
		Logger: common.NewSilentLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	buy(t, a, "KO")

	s, err := NewScheduler(a, cfg.Scheduler)
	require.NoError(t, err)
	s.Start()

	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		s.Stop()
		t.Fatal("quotes job did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a running job")
	}
}

func TestNewApp_LoadsConfigFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(base, []byte("[storage]\nbackend = \"memory\"\n\n[sync]\nworkers = 2\n"), 0o644))
	require.NoError(t, os.WriteFile(override, []byte("[sync]\nworkers = 4\n\n[logging]\nlevel = \"error\"\n"), 0o644))

	a, err := NewApp(base, override)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, common.BackendMemory, a.Storage.Backend())
	assert.Equal(t, 4, a.Config.Sync.Workers)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.toml", resolveConfigPath("explicit.toml"))

	t.Setenv("YIELDWATCH_CONFIG", "/etc/yieldwatch.toml")
	assert.Equal(t, "/etc/yieldwatch.toml", resolveConfigPath(""))
}
