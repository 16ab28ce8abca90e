// Package alphavantage provides a client for the Alpha Vantage API
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/yieldwatch/internal/clients/payload"
	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

const (
	ProviderName     = models.ProviderAlphaVantage
	DefaultBaseURL   = "https://www.alphavantage.co"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5
)

// Client implements interfaces.MarketDataProvider for Alpha Vantage.
// Dividends are not served.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit in requests per minute. Zero disables client-side throttling.
func WithRateLimit(requestsPerMinute int) ClientOption {
	return func(c *Client) {
		if requestsPerMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
	}
	WithRateLimit(DefaultRateLimit)(c)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string { return ProviderName }

// RequestCost implements interfaces.RequestCoster. Financials are three
// statement requests.
func (c *Client) RequestCost(dataType models.DataType) int {
	if dataType == models.DataFinancialStatements {
		return 3
	}
	return 1
}

// query calls /query for function. Alpha Vantage answers throttled and
// invalid requests with HTTP 200 and a "Note", "Information" or "Error Message" body.
func (c *Client) query(ctx context.Context, function string, params url.Values) (map[string]any, error) {
	endpoint := "/query?function=" + function
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, common.NewTransportError(ProviderName, endpoint, fmt.Errorf("rate limit wait: %w", err))
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("function", function)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, common.NewTransportError(ProviderName, endpoint, fmt.Errorf("failed to create request: %w", err))
	}

	c.logger.Debug().Str("function", function).Msg("Alpha Vantage API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewTransportError(ProviderName, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, common.NewStatusError(ProviderName, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, common.NewMalformedError(ProviderName, endpoint, fmt.Errorf("failed to decode response: %w", err))
	}

	for _, key := range []string{"Error Message", "Note", "Information"} {
		if msg, ok := doc[key].(string); ok {
			status := http.StatusTooManyRequests
			if key == "Error Message" {
				status = http.StatusBadRequest
			}
			return nil, common.NewStatusError(ProviderName, endpoint, status, msg)
		}
	}
	return doc, nil
}

// FetchQuote retrieves the latest quote via GLOBAL_QUOTE.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	doc, err := c.query(ctx, "GLOBAL_QUOTE", params)
	if err != nil {
		return nil, err
	}

	price, ok := payload.Float(doc, `$["Global Quote"]["05. price"]`)
	if !ok || price <= 0 {
		return nil, common.NewMalformedError(ProviderName, "/query?function=GLOBAL_QUOTE", fmt.Errorf("no price for %s", symbol))
	}

	quote := &models.Quote{
		Symbol:        symbol,
		CurrentPrice:  price,
		Change:        payload.FloatOr(doc, `$["Global Quote"]["09. change"]`),
		ChangePercent: payload.FloatOr(doc, `$["Global Quote"]["10. change percent"]`),
		Source:        ProviderName,
	}
	if vol, ok := payload.Int(doc, `$["Global Quote"]["06. volume"]`); ok {
		quote.Volume = vol
	}
	// only the trading day is reported
	quote.QuoteTime = time.Now().UTC()
	if day, ok := payload.String(doc, `$["Global Quote"]["07. latest trading day"]`); ok {
		if t, err := payload.Date(day); err == nil && !t.IsZero() && t.Before(quote.QuoteTime.Truncate(24*time.Hour)) {
			quote.QuoteTime = t
		}
	}
	return quote, nil
}

// FetchHistory retrieves daily adjusted bars between from and to, oldest first.
func (c *Client) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	// compact covers the last 100 trading days
	if !from.IsZero() && time.Since(from) > 140*24*time.Hour {
		params.Set("outputsize", "full")
	} else {
		params.Set("outputsize", "compact")
	}
	doc, err := c.query(ctx, "TIME_SERIES_DAILY_ADJUSTED", params)
	if err != nil {
		return nil, err
	}

	series, ok := doc["Time Series (Daily)"].(map[string]any)
	if !ok {
		return nil, common.NewMalformedError(ProviderName, "/query?function=TIME_SERIES_DAILY_ADJUSTED", fmt.Errorf("no time series for %s", symbol))
	}

	bars := make([]models.PriceBar, 0, len(series))
	for day, raw := range series {
		date, err := payload.Date(day)
		if err != nil || date.IsZero() {
			continue
		}
		if (!from.IsZero() && date.Before(from)) || (!to.IsZero() && date.After(to)) {
			continue
		}
		row, _ := raw.(map[string]any)
		closePrice, _ := payload.FieldFloat(row, "4. close")
		adj, ok := payload.FieldFloat(row, "5. adjusted close")
		if !ok {
			adj = closePrice
		}
		openPrice, _ := payload.FieldFloat(row, "1. open")
		high, _ := payload.FieldFloat(row, "2. high")
		low, _ := payload.FieldFloat(row, "3. low")
		vol, _ := payload.FieldFloat(row, "6. volume")
		bars = append(bars, models.PriceBar{
			Symbol:        symbol,
			Date:          date,
			Open:          openPrice,
			High:          high,
			Low:           low,
			Close:         closePrice,
			AdjustedClose: adj,
			Volume:        int64(vol),
			Source:        ProviderName,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// FetchDividends is not offered by Alpha Vantage.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	return nil, common.ErrUnsupported
}

// FetchFinancials retrieves up to years annual reports, most recent first.
func (c *Client) FetchFinancials(ctx context.Context, symbol string, years int) (*models.FinancialStatements, error) {
	params := func() url.Values {
		p := url.Values{}
		p.Set("symbol", symbol)
		return p
	}
	out := &models.FinancialStatements{Symbol: symbol, Source: ProviderName}

	income, err := c.annualReports(ctx, "INCOME_STATEMENT", params(), years)
	if err != nil {
		return nil, err
	}
	for _, r := range income {
		out.Income = append(out.Income, models.IncomeStatement{
			PeriodEnd: r.end,
			Revenue:   r.float("totalRevenue"),
			NetIncome: r.float("netIncome"),
		})
	}

	balance, err := c.annualReports(ctx, "BALANCE_SHEET", params(), years)
	if err != nil {
		return nil, common.MarkReached(err)
	}
	for _, r := range balance {
		debt, ok := payload.FieldFloat(r.row, "shortLongTermDebtTotal")
		if !ok {
			debt = r.float("shortTermDebt") + r.float("longTermDebt")
		}
		out.Balance = append(out.Balance, models.BalanceSheet{
			PeriodEnd:         r.end,
			TotalDebt:         debt,
			ShareholderEquity: r.float("totalShareholderEquity"),
		})
	}

	cash, err := c.annualReports(ctx, "CASH_FLOW", params(), years)
	if err != nil {
		return nil, common.MarkReached(err)
	}
	for _, r := range cash {
		ocf := r.float("operatingCashflow")
		capex := abs(r.float("capitalExpenditures"))
		dividends, ok := payload.FieldFloat(r.row, "dividendPayoutCommonStock")
		if !ok {
			dividends = r.float("dividendPayout")
		}
		out.CashFlow = append(out.CashFlow, models.CashFlowStatement{
			PeriodEnd:          r.end,
			OperatingCashFlow:  ocf,
			CapitalExpenditure: capex,
			FreeCashFlow:       ocf - capex,
			DividendsPaid:      abs(dividends),
		})
	}

	if out.IsEmpty() {
		return nil, common.NewMalformedError(ProviderName, "/query?function=INCOME_STATEMENT", fmt.Errorf("no annual reports for %s", symbol))
	}
	return out, nil
}

type report struct {
	end time.Time
	row map[string]any
}

func (r report) float(key string) float64 {
	v, _ := payload.FieldFloat(r.row, key)
	return v
}

func (c *Client) annualReports(ctx context.Context, function string, params url.Values, limit int) ([]report, error) {
	doc, err := c.query(ctx, function, params)
	if err != nil {
		return nil, err
	}
	items, _ := doc["annualReports"].([]any)
	reports := make([]report, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		day, _ := row["fiscalDateEnding"].(string)
		end, err := payload.Date(day)
		if err != nil || end.IsZero() {
			continue
		}
		reports = append(reports, report{end: end, row: row})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].end.After(reports[j].end) })
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
