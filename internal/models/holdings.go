package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxBuy  = "BUY"
	TxSell = "SELL"
	TxDRIP = "DRIP" // dividend reinvested as additional shares
)

// Transaction is one recorded trade against a holding.
type Transaction struct {
	ID        string          `json:"id" badgerhold:"key"`
	Portfolio string          `json:"portfolio" badgerhold:"index"`
	Symbol    string          `json:"symbol" badgerhold:"index"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fees      decimal.Decimal `json:"fees"`
	Date      time.Time       `json:"date"`
}

// Position is the holding derived from replaying a symbol's transactions.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	AverageCost decimal.Decimal `json:"average_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	DRIPShares  decimal.Decimal `json:"drip_shares"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// IsOpen reports whether shares are still held.
func (p Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}
