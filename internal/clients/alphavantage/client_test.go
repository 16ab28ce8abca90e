package alphavantage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("av-key", WithBaseURL(server.URL), WithRateLimit(0))
}

func TestFetchQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "GLOBAL_QUOTE" || q.Get("symbol") != "IBM" || q.Get("apikey") != "av-key" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"Global Quote":{"01. symbol":"IBM","05. price":"221.0300","06. volume":"3409957","07. latest trading day":"2025-01-03","09. change":"1.2700","10. change percent":"0.5779%"}}`))
	})

	quote, err := client.FetchQuote(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if quote.CurrentPrice != 221.03 {
		t.Errorf("price = %v", quote.CurrentPrice)
	}
	if quote.ChangePercent != 0.5779 {
		t.Errorf("change percent = %v", quote.ChangePercent)
	}
	if quote.Volume != 3409957 {
		t.Errorf("volume = %d", quote.Volume)
	}
	if !quote.QuoteTime.Equal(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("quote time = %v", quote.QuoteTime)
	}
}

func TestQuery_RateLimitNote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`))
	})

	_, err := client.FetchQuote(context.Background(), "IBM")
	var perr *common.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || !perr.Reached {
		t.Errorf("unexpected error %+v", perr)
	}
}

func TestFetchQuote_EmptyGlobalQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote":{}}`))
	})

	_, err := client.FetchQuote(context.Background(), "NOPE")
	if !errors.Is(err, common.ErrMalformedResponse) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestFetchHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Meta Data":{},"Time Series (Daily)":{
			"2025-01-03":{"1. open":"220","2. high":"222","3. low":"219","4. close":"221.03","5. adjusted close":"221.03","6. volume":"3409957"},
			"2025-01-02":{"1. open":"219","2. high":"221","3. low":"218","4. close":"219.76","5. adjusted close":"219.76","6. volume":"2000000"},
			"2024-12-02":{"1. open":"1","2. high":"1","3. low":"1","4. close":"1","6. volume":"1"}
		}}`))
	})

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	bars, err := client.FetchHistory(context.Background(), "IBM", from, to)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars in range, got %d", len(bars))
	}
	if bars[0].Date.Day() != 2 || bars[1].Close != 221.03 {
		t.Errorf("unexpected bars %+v", bars)
	}
}

func TestFetchDividends_Unsupported(t *testing.T) {
	client := NewClient("k")
	_, err := client.FetchDividends(context.Background(), "IBM", time.Time{}, time.Time{})
	if !errors.Is(err, common.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestFetchFinancials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "INCOME_STATEMENT":
			w.Write([]byte(`{"symbol":"IBM","annualReports":[
				{"fiscalDateEnding":"2023-12-31","totalRevenue":"61860000000","netIncome":"7502000000"},
				{"fiscalDateEnding":"2024-12-31","totalRevenue":"62753000000","netIncome":"6023000000"}
			]}`))
		case "BALANCE_SHEET":
			w.Write([]byte(`{"annualReports":[{"fiscalDateEnding":"2024-12-31","shortLongTermDebtTotal":"None","shortTermDebt":"5000000000","longTermDebt":"50000000000","totalShareholderEquity":"27000000000"}]}`))
		case "CASH_FLOW":
			w.Write([]byte(`{"annualReports":[{"fiscalDateEnding":"2024-12-31","operatingCashflow":"13445000000","capitalExpenditures":"1685000000","dividendPayout":"6147000000"}]}`))
		default:
			t.Errorf("unexpected function %s", r.URL.Query().Get("function"))
		}
	})

	fin, err := client.FetchFinancials(context.Background(), "IBM", 5)
	if err != nil {
		t.Fatalf("FetchFinancials failed: %v", err)
	}
	if len(fin.Income) != 2 || fin.Income[0].PeriodEnd.Year() != 2024 {
		t.Fatalf("income not most recent first: %+v", fin.Income)
	}
	if fin.Balance[0].TotalDebt != 55000000000 {
		t.Errorf("total debt = %v, want summed short+long", fin.Balance[0].TotalDebt)
	}
	if fin.CashFlow[0].FreeCashFlow != 11760000000 {
		t.Errorf("fcf = %v", fin.CashFlow[0].FreeCashFlow)
	}
	if fin.CashFlow[0].DividendsPaid != 6147000000 {
		t.Errorf("dividends paid = %v", fin.CashFlow[0].DividendsPaid)
	}
}
