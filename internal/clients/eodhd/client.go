// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/yieldwatch/internal/clients/payload"
	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "NA" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	ProviderName     = models.ProviderEODHD
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 60 // requests per minute
)

// Client implements interfaces.MarketDataProvider for EODHD
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
		c.limiter = perMinuteLimiter(requestsPerMinute)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func perMinuteLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: perMinuteLimiter(DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string { return ProviderName }

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.NewTransportError(ProviderName, path, fmt.Errorf("rate limit wait: %w", err))
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return common.NewTransportError(ProviderName, path, fmt.Errorf("failed to create request: %w", err))
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.NewTransportError(ProviderName, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return common.NewStatusError(ProviderName, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return common.NewMalformedError(ProviderName, path, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

// realTimeResponse is the /real-time payload. Values may be "NA" outside trading hours.
type realTimeResponse struct {
	Code          string      `json:"code"`
	Timestamp     flexFloat64 `json:"timestamp"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	Volume        flexFloat64 `json:"volume"`
	PreviousClose flexFloat64 `json:"previousClose"`
	Change        flexFloat64 `json:"change"`
	ChangePct     flexFloat64 `json:"change_p"`
}

// FetchQuote retrieves the live quote for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	path := "/real-time/" + symbol

	var resp realTimeResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Close <= 0 || resp.Timestamp <= 0 {
		return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("no price for %s", symbol))
	}

	return &models.Quote{
		Symbol:        symbol,
		CurrentPrice:  float64(resp.Close),
		Change:        float64(resp.Change),
		ChangePercent: float64(resp.ChangePct),
		Volume:        int64(resp.Volume),
		QuoteTime:     time.Unix(int64(resp.Timestamp), 0).UTC(),
		Source:        ProviderName,
	}, nil
}

type eodBarResponse struct {
	Date          string      `json:"date"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
	Volume        flexFloat64 `json:"volume"`
}

func dateParams(from, to time.Time) url.Values {
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
	path := "/eod/" + symbol
	params := dateParams(from, to)
	params.Set("period", "d")
	params.Set("order", "a")

	var rows []eodBarResponse
	if err := c.get(ctx, path, params, &rows); err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(rows))
	for _, r := range rows {
		date, err := payload.Date(r.Date)
		if err != nil || date.IsZero() {
			return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("bar date %q", r.Date))
		}
		bars = append(bars, models.PriceBar{
			Symbol:        symbol,
			Date:          date,
			Open:          float64(r.Open),
			High:          float64(r.High),
			Low:           float64(r.Low),
			Close:         float64(r.Close),
			AdjustedClose: float64(r.AdjustedClose),
			Volume:        int64(r.Volume),
			Source:        ProviderName,
		})
	}
	return bars, nil
}

type dividendResponse struct {
	Date        string      `json:"date"`
	RecordDate  string      `json:"recordDate"`
	PaymentDate string      `json:"paymentDate"`
	Period      string      `json:"period"`
	Value       flexFloat64 `json:"value"`
	Currency    string      `json:"currency"`
}

// FetchDividends retrieves dividends with ex-dates between from and to.
func (c *Client) FetchDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	path := "/div/" + symbol

	var rows []dividendResponse
	if err := c.get(ctx, path, dateParams(from, to), &rows); err != nil {
		return nil, err
	}

	events := make([]models.DividendEvent, 0, len(rows))
	for _, r := range rows {
		exDate, err := payload.Date(r.Date)
		if err != nil || exDate.IsZero() {
			return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("ex-date %q", r.Date))
		}
		payDate, _ := payload.Date(r.PaymentDate)
		recDate, _ := payload.Date(r.RecordDate)
		kind := models.DividendRegular
		if strings.EqualFold(r.Period, "Other") || strings.EqualFold(r.Period, "Special") {
			kind = models.DividendSpecial
		}
		events = append(events, models.DividendEvent{
			Symbol:      symbol,
			ExDate:      exDate,
			Amount:      float64(r.Value),
			PaymentDate: payDate,
			RecordDate:  recDate,
			Type:        kind,
			Currency:    r.Currency,
			Source:      ProviderName,
		})
	}
	return events, nil
}

// financialsResponse is /fundamentals filtered to the Financials section.
type financialsResponse struct {
	BalanceSheet    *statementResponse `json:"Balance_Sheet"`
	CashFlow        *statementResponse `json:"Cash_Flow"`
	IncomeStatement *statementResponse `json:"Income_Statement"`
}

type statementResponse struct {
	Currency string                    `json:"currency_symbol"`
	Yearly   map[string]map[string]any `json:"yearly"`
}

// FetchFinancials retrieves up to years annual statements, most recent first.
// EODHD does not report per-share dividend history here, so Dividends is empty.
func (c *Client) FetchFinancials(ctx context.Context, symbol string, years int) (*models.FinancialStatements, error) {
	path := "/fundamentals/" + symbol
	params := url.Values{}
	params.Set("filter", "Financials")

	var resp financialsResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if resp.IncomeStatement == nil && resp.BalanceSheet == nil && resp.CashFlow == nil {
		return nil, common.NewMalformedError(ProviderName, path, fmt.Errorf("no financial statements for %s", symbol))
	}

	out := &models.FinancialStatements{Symbol: symbol, Source: ProviderName}

	for _, p := range yearlyPeriods(resp.IncomeStatement, years) {
		out.Income = append(out.Income, models.IncomeStatement{
			PeriodEnd: p.end,
			Revenue:   field(p.row, "totalRevenue"),
			NetIncome: field(p.row, "netIncome"),
		})
	}
	for _, p := range yearlyPeriods(resp.BalanceSheet, years) {
		debt, ok := payload.FieldFloat(p.row, "shortLongTermDebtTotal")
		if !ok {
			debt = field(p.row, "shortTermDebt") + field(p.row, "longTermDebt")
		}
		out.Balance = append(out.Balance, models.BalanceSheet{
			PeriodEnd:         p.end,
			TotalDebt:         debt,
			ShareholderEquity: field(p.row, "totalStockholderEquity"),
		})
	}
	for _, p := range yearlyPeriods(resp.CashFlow, years) {
		ocf := field(p.row, "totalCashFromOperatingActivities")
		capex := abs(field(p.row, "capitalExpenditures"))
		fcf, ok := payload.FieldFloat(p.row, "freeCashFlow")
		if !ok {
			fcf = ocf - capex
		}
		out.CashFlow = append(out.CashFlow, models.CashFlowStatement{
			PeriodEnd:          p.end,
			OperatingCashFlow:  ocf,
			CapitalExpenditure: capex,
			FreeCashFlow:       fcf,
			DividendsPaid:      abs(field(p.row, "dividendsPaid")),
		})
	}
	return out, nil
}

type period struct {
	end time.Time
	row map[string]any
}

// yearlyPeriods returns up to limit yearly rows, most recent first.
func yearlyPeriods(s *statementResponse, limit int) []period {
	if s == nil {
		return nil
	}
	periods := make([]period, 0, len(s.Yearly))
	for key, row := range s.Yearly {
		end, err := payload.Date(key)
		if err != nil || end.IsZero() {
			continue
		}
		periods = append(periods, period{end: end, row: row})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].end.After(periods[j].end) })
	if limit > 0 && len(periods) > limit {
		periods = periods[:limit]
	}
	return periods
}

func field(row map[string]any, key string) float64 {
	v, _ := payload.FieldFloat(row, key)
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
