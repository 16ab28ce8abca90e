package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// QuoteStore persists quotes in the quote table, keyed by symbol.
type QuoteStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func (s *QuoteStore) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return selectRecord[models.Quote](ctx, s.db, tableQuote, symbol)
}

func (s *QuoteStore) SaveQuote(ctx context.Context, quote *models.Quote) error {
	if err := upsertRecord(ctx, s.db, tableQuote, quote.Symbol, quote); err != nil {
		return err
	}
	s.logger.Debug().Str("symbol", quote.Symbol).Msg("Quote saved")
	return nil
}

func (s *QuoteStore) ListQuotes(ctx context.Context) ([]*models.Quote, error) {
	rows, err := queryRecords[models.Quote](ctx, s.db, "SELECT * FROM quote ORDER BY symbol", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	out := make([]*models.Quote, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// PriceStore persists daily bars in the price_bar table, keyed by symbol|date.
type PriceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func (s *PriceStore) UpsertBars(ctx context.Context, bars []models.PriceBar) error {
	for i := range bars {
		if err := upsertRecord(ctx, s.db, tablePriceBar, bars[i].Key(), &bars[i]); err != nil {
			return err
		}
	}
	if len(bars) > 0 {
		s.logger.Debug().Str("symbol", bars[0].Symbol).Int("bars", len(bars)).Msg("Price bars saved")
	}
	return nil
}

func (s *PriceStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	rows, err := queryRecords[models.PriceBar](ctx, s.db,
		"SELECT * FROM price_bar WHERE symbol = $symbol", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("failed to get price bars for '%s': %w", symbol, err)
	}
	out := rows[:0]
	for _, b := range rows {
		if inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *PriceStore) LatestBar(ctx context.Context, symbol string) (*models.PriceBar, error) {
	bars, err := s.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, interfaces.ErrNotFound
	}
	latest := bars[len(bars)-1]
	return &latest, nil
}

// DividendStore persists dividend events in the dividend_event table, keyed by symbol|ex_date.
type DividendStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func (s *DividendStore) UpsertDividends(ctx context.Context, events []models.DividendEvent) error {
	for i := range events {
		if err := upsertRecord(ctx, s.db, tableDividend, events[i].Key(), &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *DividendStore) GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	rows, err := queryRecords[models.DividendEvent](ctx, s.db,
		"SELECT * FROM dividend_event WHERE symbol = $symbol", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("failed to get dividends for '%s': %w", symbol, err)
	}
	out := rows[:0]
	for _, e := range rows {
		if inRange(e.ExDate, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out, nil
}

// SymbolStore persists fetch bookkeeping in the symbol table.
type SymbolStore struct {
	db *surrealdb.DB
}

func (s *SymbolStore) GetSymbol(ctx context.Context, symbol string) (*models.SymbolRecord, error) {
	return selectRecord[models.SymbolRecord](ctx, s.db, tableSymbol, symbol)
}

func (s *SymbolStore) SaveSymbol(ctx context.Context, record *models.SymbolRecord) error {
	return upsertRecord(ctx, s.db, tableSymbol, record.Symbol, record)
}

func (s *SymbolStore) ListSymbols(ctx context.Context) ([]*models.SymbolRecord, error) {
	rows, err := queryRecords[models.SymbolRecord](ctx, s.db, "SELECT * FROM symbol ORDER BY symbol", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	out := make([]*models.SymbolRecord, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (s *SymbolStore) FindStale(ctx context.Context, dataType models.DataType, threshold time.Time) ([]string, error) {
	records, err := s.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, r := range records {
		if at := r.FetchedAt(dataType); at.IsZero() || at.Before(threshold) {
			stale = append(stale, r.Symbol)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// SafetyStore persists safety cache entries in the safety_cache table.
type SafetyStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func (s *SafetyStore) GetSafety(ctx context.Context, symbol string) (*models.SafetyCacheEntry, error) {
	return selectRecord[models.SafetyCacheEntry](ctx, s.db, tableSafety, symbol)
}

func (s *SafetyStore) SaveSafety(ctx context.Context, entry *models.SafetyCacheEntry) error {
	if err := upsertRecord(ctx, s.db, tableSafety, entry.Symbol, entry); err != nil {
		return err
	}
	s.logger.Debug().Str("symbol", entry.Symbol).Float64("score", entry.Score).Msg("Safety score cached")
	return nil
}

func (s *SafetyStore) ListSafety(ctx context.Context) ([]*models.SafetyCacheEntry, error) {
	rows, err := queryRecords[models.SafetyCacheEntry](ctx, s.db, "SELECT * FROM safety_cache ORDER BY symbol", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list safety entries: %w", err)
	}
	out := make([]*models.SafetyCacheEntry, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
