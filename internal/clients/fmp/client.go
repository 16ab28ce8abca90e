// Package fmp provides a client for the Financial Modeling Prep API
package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/yieldwatch/internal/clients/payload"
	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

const (
	ProviderName     = models.ProviderFMP
	DefaultBaseURL   = "https://financialmodelingprep.com/api/v3"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 30
)

// Client implements interfaces.MarketDataProvider for FMP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
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

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new FMP client
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

// get performs a rate-limited GET request and decodes the body into generic JSON.
func (c *Client) get(ctx context.Context, path string, params url.Values) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, common.NewTransportError(ProviderName, path, fmt.Errorf("rate limit wait: %w", err))
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, common.NewTransportError(ProviderName, path, fmt.Errorf("failed to create request: %w", err))
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("FMP API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.NewTransportError(ProviderName, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, common.NewStatusError(ProviderName, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("failed to decode response: %w", err))
	}

	// FMP reports some failures as 200 with an error body
	if obj, ok := doc.(map[string]any); ok {
		if msg, ok := obj["Error Message"].(string); ok {
			return nil, common.NewStatusError(ProviderName, path, resp.StatusCode, msg)
		}
	}
	return doc, nil
}

// FetchQuote retrieves the live quote for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	path := "/quote/" + symbol
	doc, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	price, ok := payload.Float(doc, "$[0].price")
	if !ok || price <= 0 {
		return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("no price for %s", symbol))
	}

	quote := &models.Quote{
		Symbol:        symbol,
		CurrentPrice:  price,
		Change:        payload.FloatOr(doc, "$[0].change"),
		ChangePercent: payload.FloatOr(doc, "$[0].changesPercentage"),
		High52Week:    payload.FloatOr(doc, "$[0].yearHigh"),
		Low52Week:     payload.FloatOr(doc, "$[0].yearLow"),
		Source:        ProviderName,
	}
	if vol, ok := payload.Int(doc, "$[0].volume"); ok {
		quote.Volume = vol
	}
	if ts, ok := payload.Int(doc, "$[0].timestamp"); ok && ts > 0 {
		quote.QuoteTime = time.Unix(ts, 0).UTC()
	} else {
		quote.QuoteTime = time.Now().UTC()
	}
	return quote, nil
}

func historicalRows(doc any) []map[string]any {
	list, err := payload.Get(doc, "$.historical")
	if err != nil {
		return nil
	}
	items, ok := list.([]any)
	if !ok {
		if single, ok := list.(map[string]any); ok {
			return []map[string]any{single}
		}
		return nil
	}
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func rowString(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowFloat(row map[string]any, key string) float64 {
	v, _ := payload.FieldFloat(row, key)
	return v
}

func rangeParams(from, to time.Time) url.Values {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}
	return params
}

// FetchHistory retrieves daily bars between from and to, oldest first.
func (c *Client) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	path := "/historical-price-full/" + symbol
	doc, err := c.get(ctx, path, rangeParams(from, to))
	if err != nil {
		return nil, err
	}

	rows := historicalRows(doc)
	bars := make([]models.PriceBar, 0, len(rows))
	// FMP returns most recent first
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		date, err := payload.Date(rowString(row, "date"))
		if err != nil || date.IsZero() {
			return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("bar date %q", rowString(row, "date")))
		}
		bars = append(bars, models.PriceBar{
			Symbol:        symbol,
			Date:          date,
			Open:          rowFloat(row, "open"),
			High:          rowFloat(row, "high"),
			Low:           rowFloat(row, "low"),
			Close:         rowFloat(row, "close"),
			AdjustedClose: rowFloat(row, "adjClose"),
			Volume:        int64(rowFloat(row, "volume")),
			Source:        ProviderName,
		})
	}
	return bars, nil
}

// FetchDividends retrieves dividends with ex-dates between from and to, oldest first.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	path := "/historical-price-full/stock_dividend/" + symbol
	doc, err := c.get(ctx, path, rangeParams(from, to))
	if err != nil {
		return nil, err
	}

	rows := historicalRows(doc)
	events := make([]models.DividendEvent, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		exDate, err := payload.Date(rowString(row, "date"))
		if err != nil || exDate.IsZero() {
			return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("ex-date %q", rowString(row, "date")))
		}
		// endpoint ignores from/to on some plans
		if (!from.IsZero() && exDate.Before(from)) || (!to.IsZero() && exDate.After(to)) {
			continue
		}
		payDate, _ := payload.Date(rowString(row, "paymentDate"))
		recDate, _ := payload.Date(rowString(row, "recordDate"))
		amount, ok := payload.FieldFloat(row, "dividend")
		if !ok {
			amount = rowFloat(row, "adjDividend")
		}
		events = append(events, models.DividendEvent{
			Symbol:      symbol,
			ExDate:      exDate,
			Amount:      amount,
			PaymentDate: payDate,
			RecordDate:  recDate,
			Type:        models.DividendRegular,
			Source:      ProviderName,
		})
	}
	return events, nil
}

// FetchFinancials retrieves up to years annual statements, most recent first.
// Per-share dividend history is derived from the dividend endpoint over complete years.
func (c *Client) FetchFinancials(ctx context.Context, symbol string, years int) (*models.FinancialStatements, error) {
	if years <= 0 {
		years = 5
	}
	params := func() url.Values {
		p := url.Values{}
		p.Set("period", "annual")
		p.Set("limit", strconv.Itoa(years))
		return p
	}

	out := &models.FinancialStatements{Symbol: symbol, Source: ProviderName}

	income, err := c.statements(ctx, "/income-statement/"+symbol, params())
	if err != nil {
		return nil, err
	}
	for _, row := range income {
		out.Income = append(out.Income, models.IncomeStatement{
			PeriodEnd: row.end,
			Revenue:   rowFloat(row.row, "revenue"),
			NetIncome: rowFloat(row.row, "netIncome"),
		})
	}

	balance, err := c.statements(ctx, "/balance-sheet-statement/"+symbol, params())
	if err != nil {
		return nil, common.MarkReached(err)
	}
	for _, row := range balance {
		out.Balance = append(out.Balance, models.BalanceSheet{
			PeriodEnd:         row.end,
			TotalDebt:         rowFloat(row.row, "totalDebt"),
			ShareholderEquity: rowFloat(row.row, "totalStockholdersEquity"),
		})
	}

	cash, err := c.statements(ctx, "/cash-flow-statement/"+symbol, params())
	if err != nil {
		return nil, common.MarkReached(err)
	}
	for _, row := range cash {
		ocf := rowFloat(row.row, "operatingCashFlow")
		capex := abs(rowFloat(row.row, "capitalExpenditure"))
		fcf, ok := payload.FieldFloat(row.row, "freeCashFlow")
		if !ok {
			fcf = ocf - capex
		}
		out.CashFlow = append(out.CashFlow, models.CashFlowStatement{
			PeriodEnd:          row.end,
			OperatingCashFlow:  ocf,
			CapitalExpenditure: capex,
			FreeCashFlow:       fcf,
			DividendsPaid:      abs(rowFloat(row.row, "dividendsPaid")),
		})
	}

	if out.IsEmpty() {
		return nil, common.NewMalformedError(ProviderName, "/income-statement/"+symbol, fmt.Errorf("no financial statements for %s", symbol))
	}

	// complete calendar years only; a partial current year reads as a cut
	year := time.Now().Year()
	from := time.Date(year-years-1, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year-1, 12, 31, 0, 0, 0, 0, time.UTC)
	if events, err := c.FetchDividends(ctx, symbol, from, to); err == nil {
		out.Dividends = models.AnnualDividends(events)
	} else {
		c.logger.Debug().Str("symbol", symbol).Err(err).Msg("FMP dividend history unavailable for financials")
	}
	return out, nil
}

type statementRow struct {
	end time.Time
	row map[string]any
}

func (c *Client) statements(ctx context.Context, path string, params url.Values) ([]statementRow, error) {
	doc, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("expected list, got %T", doc))
	}
	rows := make([]statementRow, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		end, err := payload.Date(rowString(row, "date"))
		if err != nil || end.IsZero() {
			continue
		}
		rows = append(rows, statementRow{end: end, row: row})
	}
	return rows, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
