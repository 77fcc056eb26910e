// README: Shared helpers for DB- and Redis-backed tests; both skip when unconfigured.
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"coursier/internal/infra"
)

// Postgres returns a pool on COURSIER_TEST_DSN with migrations applied and all tables empty.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("COURSIER_TEST_DSN")
	if dsn == "" {
		t.Skip("COURSIER_TEST_DSN not set; skipping DB-backed tests")
	}
	root, err := repoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if err := infra.Migrate(dsn, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(ctx, `TRUNCATE TABLE driver_ratings, settlements, order_status_history, orders, drivers, users`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// Redis returns a client on COURSIER_TEST_REDIS_ADDR with the selected database flushed.
func Redis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("COURSIER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COURSIER_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	ctx := context.Background()
	client, err := infra.NewRedis(ctx, addr, "", 15)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}
