// Package badger provides BadgerHold-based storage implementations for market data.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// maxTxnRetries bounds retries of read-modify-write transactions on conflict.
const maxTxnRetries = 5

// Store wraps a BadgerHold database connection and implements interfaces.StorageManager.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
	credMu sync.Mutex // serialises in-process credential updates
}

// NewStore creates a new BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("BadgerHold store opened")

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// DB returns the underlying badgerhold store.
func (s *Store) DB() *badgerhold.Store {
	return s.db
}

// Close closes the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Backend returns "badger".
func (s *Store) Backend() string { return common.BackendBadger }

func (s *Store) QuoteStore() interfaces.QuoteStore             { return &quoteStorage{s} }
func (s *Store) PriceStore() interfaces.PriceStore             { return &priceStorage{s} }
func (s *Store) DividendStore() interfaces.DividendStore       { return &dividendStorage{s} }
func (s *Store) SymbolStore() interfaces.SymbolStore           { return &symbolStorage{s} }
func (s *Store) SafetyStore() interfaces.SafetyStore           { return &safetyStorage{s} }
func (s *Store) ProviderStore() interfaces.ProviderStore       { return &providerStorage{s} }
func (s *Store) TransactionStore() interfaces.TransactionStore { return &transactionStorage{s} }

// get loads key into result, mapping badgerhold.ErrNotFound to interfaces.ErrNotFound.
func (s *Store) get(key string, result interface{}, what string) error {
	if err := s.db.Get(key, result); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to get %s '%s': %w", what, key, err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// --- quotes ---

type quoteStorage struct{ s *Store }

func (q *quoteStorage) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	var quote models.Quote
	if err := q.s.get(symbol, &quote, "quote"); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (q *quoteStorage) SaveQuote(_ context.Context, quote *models.Quote) error {
	if err := q.s.db.Upsert(quote.Symbol, quote); err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	q.s.logger.Debug().Str("symbol", quote.Symbol).Msg("Quote saved")
	return nil
}

func (q *quoteStorage) ListQuotes(_ context.Context) ([]*models.Quote, error) {
	var quotes []models.Quote
	if err := q.s.db.Find(&quotes, nil); err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	out := make([]*models.Quote, len(quotes))
	for i := range quotes {
		out[i] = &quotes[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- price bars ---

type priceStorage struct{ s *Store }

func (p *priceStorage) UpsertBars(_ context.Context, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := p.s.update(func(tx *badger.Txn) error {
		for i := range bars {
			if err := p.s.db.TxUpsert(tx, bars[i].Key(), &bars[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d price bars: %w", len(bars), err)
	}
	return nil
}

func (p *priceStorage) GetBars(_ context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	if err := p.s.db.Find(&bars, badgerhold.Where("Symbol").Eq(symbol)); err != nil {
		return nil, fmt.Errorf("failed to find price bars for '%s': %w", symbol, err)
	}
	out := bars[:0]
	for _, b := range bars {
		if inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (p *priceStorage) LatestBar(ctx context.Context, symbol string) (*models.PriceBar, error) {
	bars, err := p.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, interfaces.ErrNotFound
	}
	latest := bars[len(bars)-1]
	return &latest, nil
}

// --- dividends ---

type dividendStorage struct{ s *Store }

func (d *dividendStorage) UpsertDividends(_ context.Context, events []models.DividendEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := d.s.update(func(tx *badger.Txn) error {
		for i := range events {
			if err := d.s.db.TxUpsert(tx, events[i].Key(), &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d dividend events: %w", len(events), err)
	}
	return nil
}

func (d *dividendStorage) GetDividends(_ context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	var events []models.DividendEvent
	if err := d.s.db.Find(&events, badgerhold.Where("Symbol").Eq(symbol)); err != nil {
		return nil, fmt.Errorf("failed to find dividends for '%s': %w", symbol, err)
	}
	out := events[:0]
	for _, e := range events {
		if inRange(e.ExDate, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out, nil
}

// --- symbols ---

type symbolStorage struct{ s *Store }

func (y *symbolStorage) GetSymbol(_ context.Context, symbol string) (*models.SymbolRecord, error) {
	var record models.SymbolRecord
	if err := y.s.get(symbol, &record, "symbol"); err != nil {
		return nil, err
	}
	return &record, nil
}

func (y *symbolStorage) SaveSymbol(_ context.Context, record *models.SymbolRecord) error {
	if err := y.s.db.Upsert(record.Symbol, record); err != nil {
		return fmt.Errorf("failed to save symbol: %w", err)
	}
	return nil
}

func (y *symbolStorage) ListSymbols(_ context.Context) ([]*models.SymbolRecord, error) {
	var records []models.SymbolRecord
	if err := y.s.db.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	out := make([]*models.SymbolRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (y *symbolStorage) FindStale(ctx context.Context, dataType models.DataType, threshold time.Time) ([]string, error) {
	records, err := y.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, r := range records {
		if at := r.FetchedAt(dataType); at.IsZero() || at.Before(threshold) {
			stale = append(stale, r.Symbol)
		}
	}
	return stale, nil
}

// --- safety cache ---

type safetyStorage struct{ s *Store }

func (c *safetyStorage) GetSafety(_ context.Context, symbol string) (*models.SafetyCacheEntry, error) {
	var entry models.SafetyCacheEntry
	if err := c.s.get(symbol, &entry, "safety entry"); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *safetyStorage) SaveSafety(_ context.Context, entry *models.SafetyCacheEntry) error {
	if err := c.s.db.Upsert(entry.Symbol, entry); err != nil {
		return fmt.Errorf("failed to save safety entry: %w", err)
	}
	c.s.logger.Debug().Str("symbol", entry.Symbol).Float64("score", entry.Score).Msg("Safety score cached")
	return nil
}

func (c *safetyStorage) ListSafety(_ context.Context) ([]*models.SafetyCacheEntry, error) {
	var entries []models.SafetyCacheEntry
	if err := c.s.db.Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list safety entries: %w", err)
	}
	out := make([]*models.SafetyCacheEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- providers ---

type providerStorage struct{ s *Store }

func (p *providerStorage) GetCredential(_ context.Context, provider string) (*models.ProviderCredential, error) {
	var cred models.ProviderCredential
	if err := p.s.get(provider, &cred, "credential"); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (p *providerStorage) SaveCredential(_ context.Context, cred *models.ProviderCredential) error {
	if err := p.s.db.Upsert(cred.Provider, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (p *providerStorage) ListCredentials(_ context.Context) ([]*models.ProviderCredential, error) {
	var creds []models.ProviderCredential
	if err := p.s.db.Find(&creds, nil); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	out := make([]*models.ProviderCredential, len(creds))
	for i := range creds {
		out[i] = &creds[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (p *providerStorage) UpdateCredential(_ context.Context, provider string, fn func(*models.ProviderCredential) error) (*models.ProviderCredential, error) {
	p.s.credMu.Lock()
	defer p.s.credMu.Unlock()

	var result models.ProviderCredential
	err := p.s.update(func(tx *badger.Txn) error {
		var cred models.ProviderCredential
		if err := p.s.db.TxGet(tx, provider, &cred); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return interfaces.ErrNotFound
			}
			return err
		}
		if err := fn(&cred); err != nil {
			return err
		}
		if err := p.s.db.TxUpsert(tx, provider, &cred); err != nil {
			return err
		}
		result = cred
		return nil
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update credential '%s': %w", provider, err)
	}
	return &result, nil
}

func (p *providerStorage) GetRoute(_ context.Context, dataType models.DataType) (*models.ProviderConfig, error) {
	var route models.ProviderConfig
	if err := p.s.get(string(dataType), &route, "route"); err != nil {
		return nil, err
	}
	return &route, nil
}

func (p *providerStorage) SaveRoute(_ context.Context, route *models.ProviderConfig) error {
	if err := p.s.db.Upsert(string(route.DataType), route); err != nil {
		return fmt.Errorf("failed to save route: %w", err)
	}
	return nil
}

// --- transactions ---

type transactionStorage struct{ s *Store }

func (t *transactionStorage) SaveTransaction(_ context.Context, tx *models.Transaction) error {
	if err := t.s.db.Upsert(tx.ID, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (t *transactionStorage) DeleteTransaction(_ context.Context, id string) error {
	if err := t.s.db.Delete(id, models.Transaction{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (t *transactionStorage) ListTransactions(_ context.Context, portfolio string) ([]models.Transaction, error) {
	var txs []models.Transaction
	var query *badgerhold.Query
	if portfolio != "" {
		query = badgerhold.Where("Portfolio").Eq(portfolio)
	}
	if err := t.s.db.Find(&txs, query); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}
