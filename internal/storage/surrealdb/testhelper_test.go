package surrealdb

import (
	"context"
	"testing"

	surreal "github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/yieldwatch/internal/common"
	tcommon "github.com/bobmcallan/yieldwatch/tests/common"
)

// testDB connects to the shared SurrealDB server and selects a database
// private to t.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()

	cfg := tcommon.SharedSurrealDB(t).StorageConfig(t)
	ctx := context.Background()

	db, err := surreal.New(cfg.Address)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}
	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}

	t.Cleanup(func() {
		db.Close(context.Background())
	})
	return db
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := newManagerFromDB(context.Background(), testDB(t), common.NewSilentLogger())
	if err != nil {
		t.Fatalf("newManagerFromDB: %v", err)
	}
	return m
}
