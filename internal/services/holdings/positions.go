// Package holdings derives positions and the active symbol set from
// recorded transactions
package holdings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Recompute replays transactions in (date, id) order and returns one position
// per symbol, sorted by symbol. Positions are always rebuilt from the full
// history so that edited or back-dated transactions cannot drift the cost basis.
//
//   - BUY adds quantity and price*quantity + fees to cost.
//   - SELL removes quantity at the running average cost; proceeds less fees
//     minus the removed cost is realised. Selling more than is held clamps to
//     the held quantity and records a warning.
//   - DRIP adds quantity and price*quantity to cost.
//
// Cost is zeroed whenever quantity returns to zero.
func Recompute(transactions []models.Transaction) []models.Position {
	ordered := make([]models.Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	bySymbol := make(map[string]*models.Position)
	for _, tx := range ordered {
		symbol := models.NormalizeSymbol(tx.Symbol)
		if symbol == "" {
			continue
		}
		pos, ok := bySymbol[symbol]
		if !ok {
			pos = &models.Position{Symbol: symbol}
			bySymbol[symbol] = pos
		}
		apply(pos, tx)
	}

	out := make([]models.Position, 0, len(bySymbol))
	for _, pos := range bySymbol {
		if pos.Quantity.IsPositive() {
			pos.AverageCost = pos.CostBasis.Div(pos.Quantity).Round(6)
		} else {
			pos.AverageCost = decimal.Zero
		}
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func apply(pos *models.Position, tx models.Transaction) {
	qty := tx.Quantity
	if !qty.IsPositive() {
		pos.Warnings = append(pos.Warnings, fmt.Sprintf("%s %s on %s has non-positive quantity; ignored", tx.ID, tx.Type, tx.Date.Format("2006-01-02")))
		return
	}

	switch strings.ToUpper(tx.Type) {
	case models.TxBuy:
		pos.Quantity = pos.Quantity.Add(qty)
		pos.CostBasis = pos.CostBasis.Add(tx.Price.Mul(qty)).Add(tx.Fees)

	case models.TxDRIP:
		pos.Quantity = pos.Quantity.Add(qty)
		pos.CostBasis = pos.CostBasis.Add(tx.Price.Mul(qty))
		pos.DRIPShares = pos.DRIPShares.Add(qty)

	case models.TxSell:
		if qty.GreaterThan(pos.Quantity) {
			pos.Warnings = append(pos.Warnings, fmt.Sprintf("%s SELL of %s on %s exceeds held %s; clamped",
				tx.ID, qty.String(), tx.Date.Format("2006-01-02"), pos.Quantity.String()))
			qty = pos.Quantity
		}
		if qty.IsZero() {
			return
		}
		removed := pos.CostBasis.Mul(qty).Div(pos.Quantity)
		proceeds := tx.Price.Mul(qty).Sub(tx.Fees)
		pos.RealizedPnL = pos.RealizedPnL.Add(proceeds.Sub(removed))
		pos.Quantity = pos.Quantity.Sub(qty)
		pos.CostBasis = pos.CostBasis.Sub(removed)
		if pos.Quantity.IsZero() {
			pos.CostBasis = decimal.Zero
		}

	default:
		pos.Warnings = append(pos.Warnings, fmt.Sprintf("%s has unknown type %q; ignored", tx.ID, tx.Type))
	}
}
