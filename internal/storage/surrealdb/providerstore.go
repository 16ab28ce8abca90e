package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// ProviderStore persists credentials and routes. Credential updates are
// serialised in-process; concurrent writers in other processes follow
// last-writer-wins.
type ProviderStore struct {
	db *surrealdb.DB
	mu sync.Mutex
}

func (s *ProviderStore) GetCredential(ctx context.Context, provider string) (*models.ProviderCredential, error) {
	return selectRecord[models.ProviderCredential](ctx, s.db, tableCredential, provider)
}

func (s *ProviderStore) SaveCredential(ctx context.Context, cred *models.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRecord(ctx, s.db, tableCredential, cred.Provider, cred)
}

func (s *ProviderStore) ListCredentials(ctx context.Context) ([]*models.ProviderCredential, error) {
	rows, err := queryRecords[models.ProviderCredential](ctx, s.db, "SELECT * FROM provider_credential", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	out := make([]*models.ProviderCredential, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *ProviderStore) UpdateCredential(ctx context.Context, provider string, fn func(*models.ProviderCredential) error) (*models.ProviderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := selectRecord[models.ProviderCredential](ctx, s.db, tableCredential, provider)
	if err != nil {
		return nil, err
	}
	if err := fn(cred); err != nil {
		return nil, err
	}
	if err := upsertRecord(ctx, s.db, tableCredential, provider, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *ProviderStore) GetRoute(ctx context.Context, dataType models.DataType) (*models.ProviderConfig, error) {
	return selectRecord[models.ProviderConfig](ctx, s.db, tableRoute, string(dataType))
}

func (s *ProviderStore) SaveRoute(ctx context.Context, route *models.ProviderConfig) error {
	return upsertRecord(ctx, s.db, tableRoute, string(route.DataType), route)
}

// TransactionStore persists portfolio transactions.
type TransactionStore struct {
	db *surrealdb.DB
}

func (s *TransactionStore) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	return upsertRecord(ctx, s.db, tableTransaction, tx.ID, tx)
}

func (s *TransactionStore) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := selectRecord[models.Transaction](ctx, s.db, tableTransaction, id); err != nil {
		return err
	}
	if _, err := surrealdb.Delete[models.Transaction](ctx, s.db, surrealmodels.NewRecordID(tableTransaction, id)); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) ListTransactions(ctx context.Context, portfolio string) ([]models.Transaction, error) {
	sql := "SELECT * FROM portfolio_transaction"
	var vars map[string]any
	if portfolio != "" {
		sql += " WHERE portfolio = $portfolio"
		vars = map[string]any{"portfolio": portfolio}
	}
	rows, err := queryRecords[models.Transaction](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}
