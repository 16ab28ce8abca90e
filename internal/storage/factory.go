// Package storage selects and opens the configured storage backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/storage/badger"
	"github.com/bobmcallan/yieldwatch/internal/storage/memory"
	"github.com/bobmcallan/yieldwatch/internal/storage/surrealdb"
)

// NewStorageManager opens the backend named in config.Storage.Backend.
// Supported backends: "badger" (default), "surrealdb", "memory".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = common.BackendBadger
	}

	var (
		manager interfaces.StorageManager
		err     error
	)
	switch backend {
	case common.BackendBadger:
		manager, err = badger.NewStore(logger, config.Storage.Badger.Path)
	case common.BackendSurrealDB:
		manager, err = surrealdb.NewManager(ctx, logger, config.Storage.SurrealDB)
	case common.BackendMemory:
		manager = memory.NewManager()
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: badger, surrealdb, memory)", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", backend, err)
	}

	logger.Info().Str("backend", backend).Msg("Storage manager initialized")
	return manager, nil
}
