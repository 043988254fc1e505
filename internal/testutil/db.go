package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kjannette/freq-response-backend/internal/db"
)

// SetupPool creates a pgxpool.Pool for integration tests and applies the
// schema. Tests are skipped unless TEST_DATABASE_URL is set (directly or in
// the repo's .env).
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}
