package db

import (
	"database/sql"
	"testing"
)

// NewTestDB creates a fresh in-memory per-inventory database with the schema
// applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := EnsureInventorySchema(db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// NewTestRegistry creates a fresh in-memory registry database with the schema
// applied.
func NewTestRegistry(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test registry: %v", err)
	}

	if err := EnsureRegistrySchema(db); err != nil {
		db.Close()
		t.Fatalf("creating test registry schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
