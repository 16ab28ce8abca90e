package models

import "time"

// DataType identifies a category of market data served by providers.
type DataType string

const (
	DataQuotes              DataType = "quotes"
	DataHistoricalPrices    DataType = "historical_prices"
	DataDividends           DataType = "dividends"
	DataFinancialStatements DataType = "financial_statements"
)

// AllDataTypes lists every data type in routing order.
var AllDataTypes = []DataType{DataQuotes, DataHistoricalPrices, DataDividends, DataFinancialStatements}

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	for _, known := range AllDataTypes {
		if d == known {
			return true
		}
	}
	return false
}

// Provider identifiers
const (
	ProviderEODHD        = "eodhd"
	ProviderFMP          = "fmp"
	ProviderAlphaVantage = "alphavantage"
)

// ProviderCredential holds credentials and quota bookkeeping for one provider.
// UsageResetDate is the provider-local calendar day (YYYY-MM-DD) that
// UsageCountToday belongs to.
type ProviderCredential struct {
	Provider          string    `json:"provider" badgerhold:"key"`
	Active            bool      `json:"active"`
	APIKey            string    `json:"api_key"` // may be "enc:v1:" sealed
	BaseURL           string    `json:"base_url,omitempty"`
	Timeout           string    `json:"timeout,omitempty"`
	RequestsPerMinute int       `json:"requests_per_minute"`
	DailyQuota        *int      `json:"daily_quota,omitempty"` // nil = unlimited
	Timezone          string    `json:"timezone,omitempty"`
	UsageCountToday   int       `json:"usage_count_today"`
	UsageResetDate    string    `json:"usage_reset_date"`
	LastUsed          time.Time `json:"last_used,omitempty"`
}

// ProviderStatus is the key-free view of a credential reported by the API.
type ProviderStatus struct {
	Provider        string    `json:"provider"`
	Active          bool      `json:"active"`
	HasKey          bool      `json:"has_key"`
	MaskedKey       string    `json:"masked_key,omitempty"`
	DailyQuota      *int      `json:"daily_quota,omitempty"`
	UsageCountToday int       `json:"usage_count_today"`
	UsageResetDate  string    `json:"usage_reset_date"`
	LastUsed        time.Time `json:"last_used,omitempty"`
}

// ProviderConfig is the routing row for one data type.
type ProviderConfig struct {
	DataType         DataType `json:"data_type"`
	PrimaryProvider  string   `json:"primary_provider"`
	FallbackProvider string   `json:"fallback_provider,omitempty"`
	Active           bool     `json:"active"`
}
