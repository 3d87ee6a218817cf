package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"whalewatch/config"
)

// setupPostgresStore starts a PostgreSQL container and returns a migrated store.
func setupPostgresStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("whalewatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	s, err := NewPostgresStore(ctx, config.StoreConfig{DSN: dsn, MaxConns: 4, MinConns: 1})
	require.NoError(t, err, "failed to connect")

	require.NoError(t, s.Migrate(ctx), "failed to migrate")
	// Migrations are idempotent.
	require.NoError(t, s.Migrate(ctx), "second migrate should be a no-op")

	cleanup := func() {
		_ = s.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return s, cleanup
}

func TestPostgresStore_Contract(t *testing.T) {
	s, cleanup := setupPostgresStore(t)
	defer cleanup()

	runStoreContract(t, s)
}

func TestPostgresStore_LikeWildcardsInPrefix(t *testing.T) {
	s, cleanup := setupPostgresStore(t)
	defer cleanup()

	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, s.Put(ctx, Record{Key: "alert:a_b", Data: []byte(`{}`), UpdatedAt: old}))
	require.NoError(t, s.Put(ctx, Record{Key: "alert:axb", Data: []byte(`{}`), UpdatedAt: old}))

	removed, err := s.DeleteOlderThan(ctx, "alert:a_", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), removed, "underscore must match literally")

	_, ok, err := s.Get(ctx, "alert:axb")
	require.NoError(t, err)
	require.True(t, ok)
}
