//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	postgres_infra "github.com/turtacn/aegis/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/aegis/pkg/logger"
)

// TestQuotaRepository_ConcurrentDecrement proves the exactly-once property of
// the atomic decrement against a real postgres: with one unit remaining and N
// racing consumers, exactly one wins.
func TestQuotaRepository_ConcurrentDecrement(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	log := logger.NewNoopLogger()
	repo := postgres_infra.NewQuotaRepository(pool, 10, log).(*postgres_infra.QuotaRepoImpl)
	require.NoError(t, repo.EnsureSchema(ctx))

	// Burn the allowance down to a single remaining unit.
	actorID := "acct-race"
	for i := 0; i < 9; i++ {
		consumed, err := repo.DecrementUsageAtomic(ctx, actorID)
		require.NoError(t, err)
		require.True(t, consumed)
	}

	const racers = 16
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			consumed, err := repo.DecrementUsageAtomic(ctx, actorID)
			require.NoError(t, err)
			if consumed {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one racer may consume the last unit")

	status, err := repo.GetUsageStatus(ctx, actorID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.FreeUsesRemaining)
	assert.False(t, status.CanUse())
}

// TestQuotaRepository_MissingRowIsFullAllowance checks the implicit-row rule
// against a real postgres.
func TestQuotaRepository_MissingRowIsFullAllowance(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	repo := postgres_infra.NewQuotaRepository(pool, 10, logger.NewNoopLogger()).(*postgres_infra.QuotaRepoImpl)
	require.NoError(t, repo.EnsureSchema(ctx))

	status, err := repo.GetUsageStatus(ctx, "acct-unseen")
	require.NoError(t, err)
	assert.Equal(t, 10, status.FreeUsesRemaining)
	assert.Equal(t, 10, status.TotalFreeUses)
	assert.True(t, status.CanUse())
}
