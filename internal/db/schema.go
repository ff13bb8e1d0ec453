package db

import (
	"database/sql"
	"fmt"
)

// inventorySchema is the schema for one per-inventory dataset. Each
// inventory lives in its own database file, so datasets of distinct
// inventories cannot leak into each other.
const inventorySchema = `
CREATE TABLE IF NOT EXISTS categories (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS locations (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS items (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    quantity          INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    barcode           TEXT,
    barcode_corrupted INTEGER NOT NULL DEFAULT 0,
    serial            TEXT,
    category_id       TEXT REFERENCES categories(id),
    location_id       TEXT REFERENCES locations(id),
    photo             BLOB,
    photo_mime        TEXT,
    deleted           INTEGER NOT NULL DEFAULT 0,
    last_modified     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_barcode ON items(barcode);
CREATE INDEX IF NOT EXISTS idx_items_last_modified ON items(last_modified);

CREATE TABLE IF NOT EXISTS alternate_barcodes (
    barcode TEXT PRIMARY KEY,
    item_id TEXT NOT NULL REFERENCES items(id)
);

CREATE INDEX IF NOT EXISTS idx_alternate_barcodes_item ON alternate_barcodes(item_id);

CREATE TABLE IF NOT EXISTS scan_events (
    event_id   TEXT PRIMARY KEY,
    barcode    TEXT NOT NULL,
    item_id    TEXT,
    delta      INTEGER NOT NULL,
    status     TEXT NOT NULL CHECK (status IN ('applied', 'not_found', 'ambiguous', 'error')),
    candidates TEXT,
    reason     TEXT,
    scanned_at INTEGER,
    applied_at INTEGER NOT NULL
);
`

// registrySchema is the schema for the registry database: the list of
// inventories, server settings, and authentication users.
const registrySchema = `
CREATE TABLE IF NOT EXISTS inventories (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    db_path    TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'operator' CHECK (role IN ('admin', 'operator', 'viewer')),
    device_id     TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;
`

// EnsureInventorySchema creates the per-inventory tables and indexes if they
// don't already exist.
func EnsureInventorySchema(db *sql.DB) error {
	if _, err := db.Exec(inventorySchema); err != nil {
		return fmt.Errorf("creating inventory schema: %w", err)
	}
	return nil
}

// EnsureRegistrySchema creates the registry tables and indexes if they don't
// already exist.
func EnsureRegistrySchema(db *sql.DB) error {
	if _, err := db.Exec(registrySchema); err != nil {
		return fmt.Errorf("creating registry schema: %w", err)
	}
	return nil
}
