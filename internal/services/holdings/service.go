package holdings

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Service serves positions and implements interfaces.SymbolSource.
type Service struct {
	store  interfaces.TransactionStore
	logger *common.Logger
}

// NewService creates a holdings service over the transaction store.
func NewService(store interfaces.TransactionStore, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{store: store, logger: logger}
}

// Positions recomputes positions for portfolio, or across all portfolios when empty.
func (s *Service) Positions(ctx context.Context, portfolio string) ([]models.Position, error) {
	txs, err := s.store.ListTransactions(ctx, portfolio)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return Recompute(txs), nil
}

// ActiveSymbols returns the distinct, sorted symbols with an open position
// in any portfolio. Each portfolio is replayed separately so sells in one
// never offset buys in another.
func (s *Service) ActiveSymbols(ctx context.Context) ([]string, error) {
	txs, err := s.store.ListTransactions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	byPortfolio := make(map[string][]models.Transaction)
	for _, tx := range txs {
		byPortfolio[tx.Portfolio] = append(byPortfolio[tx.Portfolio], tx)
	}

	seen := make(map[string]bool)
	for portfolio, list := range byPortfolio {
		for _, pos := range Recompute(list) {
			for _, w := range pos.Warnings {
				s.logger.Warn().Str("portfolio", portfolio).Str("symbol", pos.Symbol).Msg(w)
			}
			if pos.IsOpen() {
				seen[pos.Symbol] = true
			}
		}
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
