package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
	"github.com/bobmcallan/yieldwatch/internal/services/usage"
	"github.com/bobmcallan/yieldwatch/internal/storage/memory"
)

// stubProvider is a named provider that is never called.
type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) FetchQuote(context.Context, string) (*models.Quote, error) {
	return nil, errors.New("not used")
}
func (s *stubProvider) FetchHistory(context.Context, string, time.Time, time.Time) ([]models.PriceBar, error) {
	return nil, errors.New("not used")
}
func (s *stubProvider) FetchDividends(context.Context, string, time.Time, time.Time) ([]models.DividendEvent, error) {
	return nil, errors.New("not used")
}
func (s *stubProvider) FetchFinancials(context.Context, string, int) (*models.FinancialStatements, error) {
	return nil, errors.New("not used")
}

var stubFactory = ClientFactoryFunc(func(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
	return &stubProvider{name: cred.Provider}, nil
})

func quota(n int) *int { return &n }

type fixture struct {
	store  *memory.Manager
	router *Router
}

func newFixture(t *testing.T, creds []models.ProviderCredential, routes []models.ProviderConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewManager()
	for i := range creds {
		require.NoError(t, store.ProviderStore().SaveCredential(ctx, &creds[i]))
	}
	for i := range routes {
		require.NoError(t, store.ProviderStore().SaveRoute(ctx, &routes[i]))
	}
	clock := common.FixedClock(time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC))
	tracker := usage.NewTracker(store.ProviderStore(), clock, nil)
	return &fixture{store: store, router: NewRouter(store.ProviderStore(), tracker, stubFactory, nil)}
}

func activeCred(name string) models.ProviderCredential {
	return models.ProviderCredential{Provider: name, Active: true, APIKey: name + "-key", DailyQuota: quota(10)}
}

func quotesRoute() models.ProviderConfig {
	return models.ProviderConfig{DataType: models.DataQuotes, PrimaryProvider: "eodhd", FallbackProvider: "fmp", Active: true}
}

func TestRoute_BothUsable(t *testing.T) {
	f := newFixture(t, []models.ProviderCredential{activeCred("eodhd"), activeCred("fmp")}, []models.ProviderConfig{quotesRoute()})

	route, err := f.router.Route(context.Background(), models.DataQuotes)
	require.NoError(t, err)
	assert.Equal(t, "eodhd", route.Primary.Name())
	require.NotNil(t, route.Fallback)
	assert.Equal(t, "fmp", route.Fallback.Name())
}

func TestRoute_PrimaryQuotaExhaustedReturnsFallbackOnly(t *testing.T) {
	exhausted := activeCred("eodhd")
	exhausted.DailyQuota = quota(5)
	exhausted.UsageCountToday = 5
	exhausted.UsageResetDate = "2025-01-06"
	f := newFixture(t, []models.ProviderCredential{exhausted, activeCred("fmp")}, []models.ProviderConfig{quotesRoute()})

	route, err := f.router.Route(context.Background(), models.DataQuotes)
	require.NoError(t, err)
	assert.Equal(t, "fmp", route.Primary.Name())
	assert.Nil(t, route.Fallback)
}

func TestRoute_PrimaryInactiveOrKeyless(t *testing.T) {
	inactive := activeCred("eodhd")
	inactive.Active = false
	keyless := activeCred("fmp")
	keyless.APIKey = ""
	routes := []models.ProviderConfig{
		quotesRoute(),
		{DataType: models.DataHistoricalPrices, PrimaryProvider: "fmp", FallbackProvider: "alphavantage", Active: true},
	}
	f := newFixture(t, []models.ProviderCredential{inactive, keyless, activeCred("alphavantage")}, routes)

	_, err := f.router.Route(context.Background(), models.DataQuotes)
	assert.ErrorIs(t, err, common.ErrNoProviderAvailable)

	route, err := f.router.Route(context.Background(), models.DataHistoricalPrices)
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", route.Primary.Name())
}

func TestRoute_UnsupportedProviderNotSelectable(t *testing.T) {
	routes := []models.ProviderConfig{{DataType: models.DataDividends, PrimaryProvider: "alphavantage", FallbackProvider: "fmp", Active: true}}
	f := newFixture(t, []models.ProviderCredential{activeCred("alphavantage"), activeCred("fmp")}, routes)

	route, err := f.router.Route(context.Background(), models.DataDividends)
	require.NoError(t, err)
	assert.Equal(t, "fmp", route.Primary.Name())
	assert.Nil(t, route.Fallback)
}

func TestRoute_NoRouteOrInactiveRoute(t *testing.T) {
	inactive := quotesRoute()
	inactive.Active = false
	f := newFixture(t, []models.ProviderCredential{activeCred("eodhd")}, []models.ProviderConfig{inactive})

	_, err := f.router.Route(context.Background(), models.DataQuotes)
	assert.ErrorIs(t, err, common.ErrNoProviderAvailable)

	_, err = f.router.Route(context.Background(), models.DataDividends)
	assert.ErrorIs(t, err, common.ErrNoProviderAvailable)
}

func TestRoute_UnknownCredential(t *testing.T) {
	f := newFixture(t, nil, []models.ProviderConfig{quotesRoute()})

	_, err := f.router.Route(context.Background(), models.DataQuotes)
	assert.ErrorIs(t, err, common.ErrNoProviderAvailable)
}

func TestSupports(t *testing.T) {
	assert.True(t, Supports("eodhd", models.DataDividends))
	assert.False(t, Supports("alphavantage", models.DataDividends))
	assert.False(t, Supports("unknown", models.DataQuotes))

	caps := Capabilities()
	caps[models.DataQuotes][0] = "mutated"
	assert.True(t, Supports("eodhd", models.DataQuotes), "Capabilities must return a copy")
}

func TestHTTPClientFactory_DecryptsKey(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("api_token")
		w.Write([]byte(`{"code":"AAPL.US","timestamp":1736193600,"close":245.0}`))
	}))
	defer server.Close()

	sealed, err := common.EncryptSecret("master", "real-eodhd-key")
	require.NoError(t, err)

	factory := NewHTTPClientFactory("master", common.NewSilentLogger())
	provider, err := factory.NewProvider(&models.ProviderCredential{Provider: "eodhd", APIKey: sealed, BaseURL: server.URL, Timeout: "5s"})
	require.NoError(t, err)
	assert.Equal(t, "eodhd", provider.Name())

	_, err = provider.FetchQuote(context.Background(), "AAPL.US")
	require.NoError(t, err)
	assert.Equal(t, "real-eodhd-key", gotToken)
}

func TestHTTPClientFactory_Errors(t *testing.T) {
	factory := NewHTTPClientFactory("", common.NewSilentLogger())

	_, err := factory.NewProvider(&models.ProviderCredential{Provider: "nope", APIKey: "k"})
	assert.Error(t, err)

	sealed, err := common.EncryptSecret("other", "k")
	require.NoError(t, err)
	_, err = factory.NewProvider(&models.ProviderCredential{Provider: "fmp", APIKey: sealed})
	assert.Error(t, err, "sealed key without master key must fail")

	for _, name := range []string{"eodhd", "fmp", "alphavantage"} {
		p, err := factory.NewProvider(&models.ProviderCredential{Provider: name, APIKey: "plain"})
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
}

func TestHTTPClientFactory_ReusesClientAcrossRoutes(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"code":"KO.US","timestamp":1736193600,"close":62.1}`))
	}))
	defer server.Close()

	ctx := context.Background()
	store := memory.NewManager()
	cred := models.ProviderCredential{Provider: "eodhd", Active: true, APIKey: "k", BaseURL: server.URL, RequestsPerMinute: 1}
	require.NoError(t, store.ProviderStore().SaveCredential(ctx, &cred))
	require.NoError(t, store.ProviderStore().SaveRoute(ctx, &models.ProviderConfig{DataType: models.DataQuotes, PrimaryProvider: "eodhd", Active: true}))

	tracker := usage.NewTracker(store.ProviderStore(), common.FixedClock(time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)), nil)
	rt := NewRouter(store.ProviderStore(), tracker, NewHTTPClientFactory("", nil), nil)

	first, err := rt.Route(ctx, models.DataQuotes)
	require.NoError(t, err)
	_, err = first.Primary.FetchQuote(ctx, "KO.US")
	require.NoError(t, err)

	second, err := rt.Route(ctx, models.DataQuotes)
	require.NoError(t, err)
	assert.Same(t, first.Primary, second.Primary)

	// one request per minute: the shared limiter refuses a second request inside the deadline
	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = second.Primary.FetchQuote(short, "KO.US")
	require.Error(t, err)
	assert.False(t, common.ReachedProvider(err))
	assert.Equal(t, 1, requests)
}

func TestHTTPClientFactory_RebuildsOnCredentialChange(t *testing.T) {
	factory := NewHTTPClientFactory("", nil)
	cred := &models.ProviderCredential{Provider: "fmp", APIKey: "old", RequestsPerMinute: 10}

	a, err := factory.NewProvider(cred)
	require.NoError(t, err)
	b, err := factory.NewProvider(cred)
	require.NoError(t, err)
	assert.Same(t, a, b)

	cred.APIKey = "new"
	c, err := factory.NewProvider(cred)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	cred.RequestsPerMinute = 20
	d, err := factory.NewProvider(cred)
	require.NoError(t, err)
	assert.NotSame(t, c, d)
}
