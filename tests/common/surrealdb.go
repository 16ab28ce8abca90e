// Package common holds shared helpers for integration tests.
package common

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bobmcallan/yieldwatch/internal/common"
)

const (
	surrealImage     = "surrealdb/surrealdb:v3.0.0"
	surrealPort      = "8000/tcp"
	surrealUser      = "root"
	surrealPass      = "root"
	surrealNamespace = "yieldwatch_test"
)

// SurrealDB is a SurrealDB server shared by every test in the process.
type SurrealDB struct {
	container testcontainers.Container
	address   string
}

var (
	shared    *SurrealDB
	sharedErr error
	startOnce sync.Once
	dbSeq     atomic.Int64
)

// SharedSurrealDB returns the process-wide SurrealDB server, starting it on
// first use. Tests are skipped under -short or without a container runtime.
func SharedSurrealDB(t *testing.T) *SurrealDB {
	t.Helper()
	if testing.Short() {
		t.Skip("SurrealDB integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	startOnce.Do(func() {
		shared, sharedErr = startSurrealDB(context.Background())
	})
	if sharedErr != nil {
		t.Fatalf("SurrealDB container: %v", sharedErr)
	}
	return shared
}

func startSurrealDB(ctx context.Context) (*SurrealDB, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        surrealImage,
			ExposedPorts: []string{surrealPort},
			Cmd:          []string{"start", "--user", surrealUser, "--pass", surrealPass},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(surrealPort),
				wait.ForLog("Started web server"),
			).WithDeadline(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", surrealImage, err)
	}

	endpoint, err := container.PortEndpoint(ctx, surrealPort, "ws")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve SurrealDB endpoint: %w", err)
	}
	return &SurrealDB{container: container, address: endpoint + "/rpc"}, nil
}

// StorageConfig returns connection settings for a database private to t.
// Database names are derived from the test name; SurrealDB rejects "/" and
// spaces, which subtests produce.
func (s *SurrealDB) StorageConfig(t *testing.T) common.SurrealDBConfig {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name())
	return common.SurrealDBConfig{
		Address:   s.address,
		Username:  surrealUser,
		Password:  surrealPass,
		Namespace: surrealNamespace,
		Database:  fmt.Sprintf("t_%s_%d", name, dbSeq.Add(1)),
	}
}

// Terminate stops the container. Safe on nil.
func (s *SurrealDB) Terminate() {
	if s != nil && s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}
