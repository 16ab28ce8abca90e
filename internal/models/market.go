// Package models defines data structures for Yieldwatch
package models

import (
	"strings"
	"time"
)

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Quote is the current price snapshot for a symbol. There is one per symbol.
type Quote struct {
	Symbol        string    `json:"symbol" badgerhold:"key"`
	CurrentPrice  float64   `json:"current_price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	High52Week    float64   `json:"high_52_week"`
	Low52Week     float64   `json:"low_52_week"`
	QuoteTime     time.Time `json:"quote_time"`
	MarketState   string    `json:"market_state"` // PRE, REGULAR, POST, CLOSED
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// MergeQuote returns the record to persist when incoming replaces existing.
// quote_time never moves backwards: an older incoming quote keeps the stored
// price fields and only advances fetched_at.
func MergeQuote(existing *Quote, incoming Quote) Quote {
	if existing == nil || !incoming.QuoteTime.Before(existing.QuoteTime) {
		return incoming
	}
	merged := *existing
	merged.FetchedAt = incoming.FetchedAt
	if incoming.MarketState != "" {
		merged.MarketState = incoming.MarketState
	}
	return merged
}

// PriceBar is one day of OHLCV data, unique per (symbol, date).
type PriceBar struct {
	Symbol        string    `json:"symbol" badgerhold:"index"`
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
	Source        string    `json:"source"`
}

// Key returns the unique storage key of the bar.
func (b PriceBar) Key() string {
	return b.Symbol + "|" + b.Date.UTC().Format("2006-01-02")
}

// Dividend types
const (
	DividendRegular = "regular"
	DividendSpecial = "special"
	DividendStock   = "stock"
)

// DividendEvent is one declared distribution, unique per (symbol, ex_date).
type DividendEvent struct {
	Symbol      string    `json:"symbol" badgerhold:"index"`
	ExDate      time.Time `json:"ex_date"`
	Amount      float64   `json:"amount"`
	PaymentDate time.Time `json:"payment_date,omitempty"`
	RecordDate  time.Time `json:"record_date,omitempty"`
	Type        string    `json:"type"`
	Currency    string    `json:"currency,omitempty"`
	Source      string    `json:"source"`
}

// Key returns the unique storage key of the event.
func (d DividendEvent) Key() string {
	return d.Symbol + "|" + d.ExDate.UTC().Format("2006-01-02")
}

// SymbolRecord tracks when each data type was last fetched for a symbol.
type SymbolRecord struct {
	Symbol              string    `json:"symbol" badgerhold:"key"`
	FirstSeen           time.Time `json:"first_seen"`
	QuoteFetchedAt      time.Time `json:"quote_fetched_at"`
	HistoryFetchedAt    time.Time `json:"history_fetched_at"`
	DividendsFetchedAt  time.Time `json:"dividends_fetched_at"`
	FinancialsFetchedAt time.Time `json:"financials_fetched_at"`
}

// FetchedAt returns the last fetch time recorded for dataType.
func (r *SymbolRecord) FetchedAt(dataType DataType) time.Time {
	switch dataType {
	case DataQuotes:
		return r.QuoteFetchedAt
	case DataHistoricalPrices:
		return r.HistoryFetchedAt
	case DataDividends:
		return r.DividendsFetchedAt
	case DataFinancialStatements:
		return r.FinancialsFetchedAt
	}
	return time.Time{}
}

// MarkFetched stamps the fetch time for dataType.
func (r *SymbolRecord) MarkFetched(dataType DataType, at time.Time) {
	switch dataType {
	case DataQuotes:
		r.QuoteFetchedAt = at
	case DataHistoricalPrices:
		r.HistoryFetchedAt = at
	case DataDividends:
		r.DividendsFetchedAt = at
	case DataFinancialStatements:
		r.FinancialsFetchedAt = at
	}
}
