// Package testing provides testing utilities and helpers for the layerwise project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/layerwise/internal/database"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
)

// NewTestDB creates a file-backed SQLite database for testing with automatic schema migration.
// Returns the database instance and a cleanup function that closes the connection and
// removes the file. The cleanup function is safe to call more than once.
//
// Supported schema names:
//   - "knowledgebase" - applies knowledgebase_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files keep tests isolated from each other
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}

// NewTestRepository returns a knowledge-base repository on a fresh test
// database seeded with records. Cleanup is registered on t.
func NewTestRepository(t *testing.T, records ...knowledgebase.Record) (*knowledgebase.Repository, *database.DB) {
	t.Helper()

	db, cleanup := NewTestDB(t, "knowledgebase")
	t.Cleanup(cleanup)

	repo := knowledgebase.NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
	if len(records) > 0 {
		if err := repo.PutAll(records); err != nil {
			t.Fatalf("Failed to seed knowledge base: %v", err)
		}
	}
	return repo, db
}
