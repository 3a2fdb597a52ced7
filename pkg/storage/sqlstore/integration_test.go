//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/herald/pkg/storage"
	"github.com/platinummonkey/herald/pkg/webhooks"
)

// setupPostgresStore starts a PostgreSQL container and migrates it
func setupPostgresStore(t *testing.T) *EndpointStore {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("herald_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := storage.DefaultConfig()
	cfg.StoreType = storage.StorePostgres
	cfg.PostgresURL = connStr

	db, dialect, err := OpenFromConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db, dialect))
	return New(db, dialect, nil)
}

func TestPostgresIntegration_Lifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	e := &webhooks.Endpoint{
		CompanyID: "acme",
		URL:       "https://example.com/hook",
		Events:    []webhooks.EventType{webhooks.EventDataDeleted},
	}
	require.NoError(t, store.Create(ctx, e))

	secret := "rotated"
	found, err := store.Update(ctx, e.ID, webhooks.EndpointUpdate{Secret: &secret})
	require.NoError(t, err)
	assert.True(t, found)

	for i := 0; i < 2; i++ {
		_, err := store.RecordFailure(ctx, e.ID, 2)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Secret)
	assert.Equal(t, 2, got.FailureCount)
	assert.False(t, got.Active)

	list, err := store.ListByCompany(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)
}
