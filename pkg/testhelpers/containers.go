package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
)

// FusionTestImage is PostgreSQL with the pgvector extension available.
const FusionTestImage = "pgvector/pgvector:pg16"

// FusionDB holds the fusion database connection with migrations applied.
// Use this for testing handlers, services, and repositories against a real database.
type FusionDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedFusionDB     *FusionDB
	sharedFusionDBOnce sync.Once
	sharedFusionDBErr  error
)

// GetFusionDB returns a shared database for integration tests.
// The container is created once, migrated once and reused across all tests in the run.
func GetFusionDB(t *testing.T) *FusionDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedFusionDBOnce.Do(func() {
		sharedFusionDB, sharedFusionDBErr = setupFusionDB()
	})

	if sharedFusionDBErr != nil {
		t.Fatalf("Failed to setup fusion database: %v", sharedFusionDBErr)
	}

	return sharedFusionDB
}

func setupFusionDB() (*FusionDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        FusionTestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ekaya_fusion_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts postgres once after init scripts.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/ekaya_fusion_test?sslmode=disable",
		host, port.Port())

	// Migrations first: the pool registers pgvector types on connect, which
	// needs the extension the first migration creates.
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	for i := 0; i < 10; i++ {
		if err = sqlDB.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("database never became reachable: %w", err)
	}

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to fusion database: %w", err)
	}

	return &FusionDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// OwnerContext returns a context scoped to ownerID and its cleanup function.
func (f *FusionDB) OwnerContext(t *testing.T, ownerID uuid.UUID) (context.Context, func()) {
	t.Helper()

	ctx := context.Background()
	scope, err := f.DB.WithOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("Failed to create owner scope: %v", err)
	}
	return database.SetOwnerScope(ctx, scope), scope.Close
}

// SystemContext returns a context with an unscoped connection and its cleanup function.
func (f *FusionDB) SystemContext(t *testing.T) (context.Context, func()) {
	t.Helper()

	ctx := context.Background()
	scope, err := f.DB.WithoutOwner(ctx)
	if err != nil {
		t.Fatalf("Failed to create system scope: %v", err)
	}
	return database.SetOwnerScope(ctx, scope), scope.Close
}

// CleanupOwner deletes every row belonging to ownerID.
func (f *FusionDB) CleanupOwner(t *testing.T, ownerID uuid.UUID) {
	t.Helper()

	ctx := context.Background()
	tables := []string{
		"fusion_fact_conflicts",
		"fusion_pending_approvals",
		"fusion_pending_confirmations",
		"fusion_commitments",
		"fusion_activities",
	}
	for _, table := range tables {
		if _, err := f.DB.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", table), ownerID); err != nil {
			t.Fatalf("Failed to clean %s: %v", table, err)
		}
	}

	// Supersede links reference other facts in the same owner.
	if _, err := f.DB.Exec(ctx, `UPDATE fusion_facts SET superseded_by_id = NULL, supersedes_id = NULL WHERE owner_id = $1`, ownerID); err != nil {
		t.Fatalf("Failed to unlink facts: %v", err)
	}
	for _, table := range []string{"fusion_facts", "fusion_entity_identifiers"} {
		if _, err := f.DB.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", table), ownerID); err != nil {
			t.Fatalf("Failed to clean %s: %v", table, err)
		}
	}
	if _, err := f.DB.Exec(ctx, `UPDATE fusion_entities SET merged_into_id = NULL WHERE owner_id = $1`, ownerID); err != nil {
		t.Fatalf("Failed to unlink entities: %v", err)
	}
	if _, err := f.DB.Exec(ctx, `DELETE FROM fusion_entities WHERE owner_id = $1`, ownerID); err != nil {
		t.Fatalf("Failed to clean fusion_entities: %v", err)
	}
}
