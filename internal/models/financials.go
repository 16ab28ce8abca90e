package models

import (
	"sort"
	"time"
)

// IncomeStatement is one reporting period of an income statement.
type IncomeStatement struct {
	PeriodEnd time.Time `json:"period_end"`
	Revenue   float64   `json:"revenue"`
	NetIncome float64   `json:"net_income"`
}

// BalanceSheet is one reporting period of a balance sheet.
type BalanceSheet struct {
	PeriodEnd         time.Time `json:"period_end"`
	TotalDebt         float64   `json:"total_debt"`
	ShareholderEquity float64   `json:"shareholder_equity"`
}

// CashFlowStatement is one reporting period of a cash-flow statement.
// DividendsPaid is a positive amount regardless of the provider's sign convention.
type CashFlowStatement struct {
	PeriodEnd          time.Time `json:"period_end"`
	OperatingCashFlow  float64   `json:"operating_cash_flow"`
	CapitalExpenditure float64   `json:"capital_expenditure"`
	FreeCashFlow       float64   `json:"free_cash_flow"`
	DividendsPaid      float64   `json:"dividends_paid"`
}

// DividendPeriod is the total per-share dividend declared in one period.
type DividendPeriod struct {
	Year     int     `json:"year"`
	PerShare float64 `json:"per_share"`
}

// FinancialStatements is the scoring input for one symbol. Every series is
// ordered most-recent-first.
type FinancialStatements struct {
	Symbol    string              `json:"symbol"`
	Income    []IncomeStatement   `json:"income"`
	Balance   []BalanceSheet      `json:"balance"`
	CashFlow  []CashFlowStatement `json:"cash_flow"`
	Dividends []DividendPeriod    `json:"dividends"`
	Source    string              `json:"source"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// IsEmpty reports whether no statement series carries any data.
func (f *FinancialStatements) IsEmpty() bool {
	return f == nil || (len(f.Income) == 0 && len(f.Balance) == 0 && len(f.CashFlow) == 0 && len(f.Dividends) == 0)
}

// AnnualDividends totals regular and special dividends per ex-date calendar
// year, most recent year first. Stock dividends carry no cash amount and are skipped.
func AnnualDividends(events []DividendEvent) []DividendPeriod {
	totals := make(map[int]float64)
	for _, e := range events {
		if e.Type == DividendStock || e.ExDate.IsZero() {
			continue
		}
		totals[e.ExDate.Year()] += e.Amount
	}
	periods := make([]DividendPeriod, 0, len(totals))
	for year, total := range totals {
		periods = append(periods, DividendPeriod{Year: year, PerShare: total})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Year > periods[j].Year })
	return periods
}
