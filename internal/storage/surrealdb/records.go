package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/yieldwatch/internal/interfaces"
)

// upsertAttempts bounds retries of transient write failures.
const upsertAttempts = 3

func selectRecord[T any](ctx context.Context, db *surrealdb.DB, table, id string) (*T, error) {
	data, err := surrealdb.Select[T](ctx, db, surrealmodels.NewRecordID(table, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select %s '%s': %w", table, id, err)
	}
	if data == nil {
		return nil, interfaces.ErrNotFound
	}
	return data, nil
}

func upsertRecord[T any](ctx context.Context, db *surrealdb.DB, table, id string, data *T) error {
	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{"rid": surrealmodels.NewRecordID(table, id), "data": data}

	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		_, err := surrealdb.Query[[]T](ctx, db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to save %s '%s' after retries: %w", table, id, lastErr)
}

func queryRecords[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return nil, nil
}
