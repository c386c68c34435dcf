// Package testutil provides shared test fixtures.
package testutil

import (
	"testing"

	"rcm-go/internal/database"
	"rcm-go/internal/database/migrations"
)

// NewTestRepository creates an in-memory SQLite repository with the schema
// applied. It is closed automatically when the test completes.
func NewTestRepository(t *testing.T) *database.SQLiteRepository {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	repo := database.NewSQLiteRepositoryFromDB(sqlDB)

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}
