// Package memory provides in-process storage implementations, used for tests
// and the "memory" backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Manager implements interfaces.StorageManager with maps guarded by one lock.
// Records are copied on the way in and out so callers never share memory with the store.
type Manager struct {
	mu           sync.RWMutex
	quotes       map[string]models.Quote
	bars         map[string]models.PriceBar
	dividends    map[string]models.DividendEvent
	symbols      map[string]models.SymbolRecord
	safety       map[string]models.SafetyCacheEntry
	credentials  map[string]models.ProviderCredential
	routes       map[models.DataType]models.ProviderConfig
	transactions map[string]models.Transaction
}

// NewManager creates an empty in-memory storage manager.
func NewManager() *Manager {
	return &Manager{
		quotes:       make(map[string]models.Quote),
		bars:         make(map[string]models.PriceBar),
		dividends:    make(map[string]models.DividendEvent),
		symbols:      make(map[string]models.SymbolRecord),
		safety:       make(map[string]models.SafetyCacheEntry),
		credentials:  make(map[string]models.ProviderCredential),
		routes:       make(map[models.DataType]models.ProviderConfig),
		transactions: make(map[string]models.Transaction),
	}
}

func (m *Manager) QuoteStore() interfaces.QuoteStore             { return (*quoteStore)(m) }
func (m *Manager) PriceStore() interfaces.PriceStore             { return (*priceStore)(m) }
func (m *Manager) DividendStore() interfaces.DividendStore       { return (*dividendStore)(m) }
func (m *Manager) SymbolStore() interfaces.SymbolStore           { return (*symbolStore)(m) }
func (m *Manager) SafetyStore() interfaces.SafetyStore           { return (*safetyStore)(m) }
func (m *Manager) ProviderStore() interfaces.ProviderStore       { return (*providerStore)(m) }
func (m *Manager) TransactionStore() interfaces.TransactionStore { return (*transactionStore)(m) }

// Backend returns "memory".
func (m *Manager) Backend() string { return "memory" }

// Close is a no-op.
func (m *Manager) Close() error { return nil }

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

type quoteStore Manager

func (s *quoteStore) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &q, nil
}

func (s *quoteStore) SaveQuote(_ context.Context, quote *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[quote.Symbol] = *quote
	return nil
}

func (s *quoteStore) ListQuotes(_ context.Context) ([]*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		q := q
		out = append(out, &q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

type priceStore Manager

func (s *priceStore) UpsertBars(_ context.Context, bars []models.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		s.bars[b.Key()] = b
	}
	return nil
}

func (s *priceStore) GetBars(_ context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PriceBar
	for _, b := range s.bars {
		if b.Symbol == symbol && inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *priceStore) LatestBar(ctx context.Context, symbol string) (*models.PriceBar, error) {
	bars, _ := s.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if len(bars) == 0 {
		return nil, interfaces.ErrNotFound
	}
	latest := bars[len(bars)-1]
	return &latest, nil
}

type dividendStore Manager

func (s *dividendStore) UpsertDividends(_ context.Context, events []models.DividendEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.dividends[e.Key()] = e
	}
	return nil
}

func (s *dividendStore) GetDividends(_ context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DividendEvent
	for _, e := range s.dividends {
		if e.Symbol == symbol && inRange(e.ExDate, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out, nil
}

type symbolStore Manager

func (s *symbolStore) GetSymbol(_ context.Context, symbol string) (*models.SymbolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.symbols[symbol]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &r, nil
}

func (s *symbolStore) SaveSymbol(_ context.Context, record *models.SymbolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[record.Symbol] = *record
	return nil
}

func (s *symbolStore) ListSymbols(_ context.Context) ([]*models.SymbolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SymbolRecord, 0, len(s.symbols))
	for _, r := range s.symbols {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *symbolStore) FindStale(ctx context.Context, dataType models.DataType, threshold time.Time) ([]string, error) {
	records, _ := s.ListSymbols(ctx)
	var out []string
	for _, r := range records {
		if at := r.FetchedAt(dataType); at.IsZero() || at.Before(threshold) {
			out = append(out, r.Symbol)
		}
	}
	return out, nil
}

type safetyStore Manager

func (s *safetyStore) GetSafety(_ context.Context, symbol string) (*models.SafetyCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.safety[symbol]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	e.Warnings = append([]string(nil), e.Warnings...)
	return &e, nil
}

func (s *safetyStore) SaveSafety(_ context.Context, entry *models.SafetyCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.Warnings = append([]string(nil), entry.Warnings...)
	s.safety[entry.Symbol] = e
	return nil
}

func (s *safetyStore) ListSafety(_ context.Context) ([]*models.SafetyCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SafetyCacheEntry, 0, len(s.safety))
	for _, e := range s.safety {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

type providerStore Manager

func copyCredential(c models.ProviderCredential) models.ProviderCredential {
	if c.DailyQuota != nil {
		q := *c.DailyQuota
		c.DailyQuota = &q
	}
	return c
}

func (s *providerStore) GetCredential(_ context.Context, provider string) (*models.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[provider]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c = copyCredential(c)
	return &c, nil
}

func (s *providerStore) SaveCredential(_ context.Context, cred *models.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cred.Provider] = copyCredential(*cred)
	return nil
}

func (s *providerStore) ListCredentials(_ context.Context) ([]*models.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ProviderCredential, 0, len(s.credentials))
	for _, c := range s.credentials {
		c = copyCredential(c)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *providerStore) UpdateCredential(_ context.Context, provider string, fn func(*models.ProviderCredential) error) (*models.ProviderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[provider]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c = copyCredential(c)
	if err := fn(&c); err != nil {
		return nil, err
	}
	s.credentials[provider] = copyCredential(c)
	return &c, nil
}

func (s *providerStore) GetRoute(_ context.Context, dataType models.DataType) (*models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[dataType]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &r, nil
}

func (s *providerStore) SaveRoute(_ context.Context, route *models.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route.DataType] = *route
	return nil
}

type transactionStore Manager

func (s *transactionStore) SaveTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *transactionStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *transactionStore) ListTransactions(_ context.Context, portfolio string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range s.transactions {
		if portfolio == "" || tx.Portfolio == portfolio {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
