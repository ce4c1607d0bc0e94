// Package testutil provides shared test infrastructure, primarily the
// disposable PostgreSQL container used by integration tests.
package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/campusnotes/notechat/internal/database"
	"github.com/campusnotes/notechat/internal/log"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
// The schema is fully migrated. Cleanup is automatic via t.Cleanup.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts an isolated PostgreSQL container, applies all
// migrations, and returns a verified connection pool.
//
// Requires a running Docker daemon.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("notechat_test"),
		postgres.WithUsername("notechat_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	if err := database.Migrate(migrateURL(connStr), log.NewNop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Container: pgContainer, Pool: pool, ConnStr: connStr}
}

// migrateURL rewrites the container's postgres:// URL to the pgx5://
// scheme golang-migrate's pgx v5 driver registers.
func migrateURL(connStr string) string {
	if rest, ok := strings.CutPrefix(connStr, "postgres://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(connStr, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	return connStr
}
