package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// MarketDataProvider is implemented by every external market-data client.
// Methods for data types a provider does not serve return common.ErrUnsupported.
type MarketDataProvider interface {
	// Name returns the provider identifier used in credentials and routes.
	Name() string

	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
	FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
	FetchDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error)
	// FetchFinancials returns up to years annual statements, most recent first.
	FetchFinancials(ctx context.Context, symbol string, years int) (*models.FinancialStatements, error)
}

// RequestCoster is implemented by providers whose fetch for a data type
// issues more than one HTTP request. Providers without it cost 1.
type RequestCoster interface {
	RequestCost(dataType models.DataType) int
}

// RequestCost reports how many requests a fetch of dataType through p uses.
func RequestCost(p MarketDataProvider, dataType models.DataType) int {
	if c, ok := p.(RequestCoster); ok {
		if n := c.RequestCost(dataType); n > 0 {
			return n
		}
	}
	return 1
}
