package router

import (
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// capabilities lists which providers serve each data type.
var capabilities = map[models.DataType][]string{
	models.DataQuotes:              {models.ProviderEODHD, models.ProviderFMP, models.ProviderAlphaVantage},
	models.DataHistoricalPrices:    {models.ProviderEODHD, models.ProviderFMP, models.ProviderAlphaVantage},
	models.DataDividends:           {models.ProviderEODHD, models.ProviderFMP},
	models.DataFinancialStatements: {models.ProviderFMP, models.ProviderEODHD, models.ProviderAlphaVantage},
}

// Supports reports whether provider declares support for dataType.
func Supports(provider string, dataType models.DataType) bool {
	for _, p := range capabilities[dataType] {
		if p == provider {
			return true
		}
	}
	return false
}

// Capabilities returns a copy of the capability matrix.
func Capabilities() map[models.DataType][]string {
	out := make(map[models.DataType][]string, len(capabilities))
	for dt, providers := range capabilities {
		out[dt] = append([]string(nil), providers...)
	}
	return out
}
