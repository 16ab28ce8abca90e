// Package interfaces defines service contracts for Yieldwatch
package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// StorageManager coordinates all storage backends
type StorageManager interface {
	QuoteStore() QuoteStore
	PriceStore() PriceStore
	DividendStore() DividendStore
	SymbolStore() SymbolStore
	SafetyStore() SafetyStore
	ProviderStore() ProviderStore
	TransactionStore() TransactionStore

	// Backend returns the configured backend name.
	Backend() string

	// Lifecycle
	Close() error
}

// QuoteStore persists the current quote per symbol.
type QuoteStore interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	SaveQuote(ctx context.Context, quote *models.Quote) error
	ListQuotes(ctx context.Context) ([]*models.Quote, error)
}

// PriceStore persists daily price bars, unique per (symbol, date).
type PriceStore interface {
	UpsertBars(ctx context.Context, bars []models.PriceBar) error
	// GetBars returns bars with from <= date <= to, oldest first.
	// A zero bound is open-ended.
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
	LatestBar(ctx context.Context, symbol string) (*models.PriceBar, error)
}

// DividendStore persists dividend events, unique per (symbol, ex_date).
type DividendStore interface {
	UpsertDividends(ctx context.Context, events []models.DividendEvent) error
	// GetDividends returns events with from <= ex_date <= to, oldest first.
	// A zero bound is open-ended.
	GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]models.DividendEvent, error)
}

// SymbolStore persists per-symbol fetch bookkeeping.
type SymbolStore interface {
	GetSymbol(ctx context.Context, symbol string) (*models.SymbolRecord, error)
	SaveSymbol(ctx context.Context, record *models.SymbolRecord) error
	ListSymbols(ctx context.Context) ([]*models.SymbolRecord, error)
	// FindStale returns symbols whose dataType was never fetched or was
	// last fetched before threshold, sorted.
	FindStale(ctx context.Context, dataType models.DataType, threshold time.Time) ([]string, error)
}

// SafetyStore persists dividend-safety cache entries.
type SafetyStore interface {
	GetSafety(ctx context.Context, symbol string) (*models.SafetyCacheEntry, error)
	SaveSafety(ctx context.Context, entry *models.SafetyCacheEntry) error
	ListSafety(ctx context.Context) ([]*models.SafetyCacheEntry, error)
}

// ProviderStore persists provider credentials and per-data-type routing.
type ProviderStore interface {
	GetCredential(ctx context.Context, provider string) (*models.ProviderCredential, error)
	SaveCredential(ctx context.Context, cred *models.ProviderCredential) error
	ListCredentials(ctx context.Context) ([]*models.ProviderCredential, error)

	// UpdateCredential applies fn to the stored credential and persists the
	// result as one atomic read-modify-write. fn may be called more than once
	// if the write conflicts. Returns ErrNotFound if the credential is missing.
	UpdateCredential(ctx context.Context, provider string, fn func(*models.ProviderCredential) error) (*models.ProviderCredential, error)

	GetRoute(ctx context.Context, dataType models.DataType) (*models.ProviderConfig, error)
	SaveRoute(ctx context.Context, route *models.ProviderConfig) error
}

// TransactionStore persists portfolio transactions, the source of holdings.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	// ListTransactions returns transactions for portfolio, or all when portfolio is empty.
	ListTransactions(ctx context.Context, portfolio string) ([]models.Transaction, error)
}
