//go:build integration

// Package testutil starts throwaway infrastructure for integration tests.
package testutil

import (
	"context"
	"testing"

	"github.com/JonMunkholm/imoveis/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// record schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	Provider  *database.Provider
}

// NewPostgresContainer starts Postgres, connects a provider and applies
// the schema. The container is terminated when the test finishes.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("imoveis"),
		tcpostgres.WithUsername("imoveis"),
		tcpostgres.WithPassword("imoveis"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	provider, err := database.Open(ctx, database.Settings{URL: url, MaxConns: 20, MinConns: 1})
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(provider.Close)

	if _, err := database.EnsureSchema(ctx, provider.Pool()); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{Container: container, URL: url, Provider: provider}
}

// Pool returns the provider's current pool.
func (p *PostgresContainer) Pool() *pgxpool.Pool {
	return p.Provider.Pool()
}

// Truncate empties every table between tests.
func (p *PostgresContainer) Truncate(t *testing.T) {
	t.Helper()

	_, err := p.Pool().Exec(context.Background(), `TRUNCATE
		property_documents, property_infrastructure, properties, audit_log,
		property_types, purposes, transfer_statuses, possession_types, building_uses
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
