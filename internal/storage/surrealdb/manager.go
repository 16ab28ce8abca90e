// Package surrealdb implements the storage interfaces on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
)

// Table names
const (
	tableQuote       = "quote"
	tablePriceBar    = "price_bar"
	tableDividend    = "dividend_event"
	tableSymbol      = "symbol"
	tableSafety      = "safety_cache"
	tableCredential  = "provider_credential"
	tableRoute       = "provider_route"
	tableTransaction = "portfolio_transaction"
)

var allTables = []string{
	tableQuote, tablePriceBar, tableDividend, tableSymbol,
	tableSafety, tableCredential, tableRoute, tableTransaction,
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	quoteStore       *QuoteStore
	priceStore       *PriceStore
	dividendStore    *DividendStore
	symbolStore      *SymbolStore
	safetyStore      *SafetyStore
	providerStore    *ProviderStore
	transactionStore *TransactionStore
}

// NewManager connects to SurrealDB and prepares the schemaless tables.
func NewManager(ctx context.Context, logger *common.Logger, config common.SurrealDBConfig) (*Manager, error) {
	db, err := surrealdb.New(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Username,
		"pass": config.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Namespace, config.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := newManagerFromDB(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", config.Address).
		Str("namespace", config.Namespace).
		Str("database", config.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// newManagerFromDB wraps an already connected database.
func newManagerFromDB(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Manager, error) {
	// SurrealDB v3 errors on querying non-existent tables
	for _, table := range allTables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	return &Manager{
		db:               db,
		logger:           logger,
		quoteStore:       &QuoteStore{db: db, logger: logger},
		priceStore:       &PriceStore{db: db, logger: logger},
		dividendStore:    &DividendStore{db: db, logger: logger},
		symbolStore:      &SymbolStore{db: db},
		safetyStore:      &SafetyStore{db: db, logger: logger},
		providerStore:    &ProviderStore{db: db},
		transactionStore: &TransactionStore{db: db},
	}, nil
}

func (m *Manager) QuoteStore() interfaces.QuoteStore             { return m.quoteStore }
func (m *Manager) PriceStore() interfaces.PriceStore             { return m.priceStore }
func (m *Manager) DividendStore() interfaces.DividendStore       { return m.dividendStore }
func (m *Manager) SymbolStore() interfaces.SymbolStore           { return m.symbolStore }
func (m *Manager) SafetyStore() interfaces.SafetyStore           { return m.safetyStore }
func (m *Manager) ProviderStore() interfaces.ProviderStore       { return m.providerStore }
func (m *Manager) TransactionStore() interfaces.TransactionStore { return m.transactionStore }

// Backend returns "surrealdb".
func (m *Manager) Backend() string { return common.BackendSurrealDB }

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close(context.Background())
	}
	return nil
}
