package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matejg/zaloga/internal/model"
)

// ImportStats summarizes one snapshot import.
type ImportStats struct {
	ItemsInserted     int `json:"items_inserted"`
	ItemsUpdated      int `json:"items_updated"`
	ItemsSkipped      int `json:"items_skipped"`
	CategoriesAdded   int `json:"categories_added"`
	LocationsAdded    int `json:"locations_added"`
	BarcodesAdded     int `json:"barcodes_added"`
	ReferencesCleared int `json:"references_cleared"`
}

// ExportSnapshot dumps the full dataset: categories, locations, items, and
// the alternate-barcode map. Item photos are excluded.
func ExportSnapshot(ctx context.Context, db *sql.DB) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		SchemaVersion: model.SnapshotSchemaVersion,
		ExportedAt:    nowMillis(),
	}

	var err error
	if snap.Categories, err = ListCategories(ctx, db); err != nil {
		return nil, err
	}
	if snap.Locations, err = ListLocations(ctx, db); err != nil {
		return nil, err
	}
	if snap.Items, err = queryItems(ctx, db,
		`SELECT `+itemColumns+` FROM items ORDER BY id`,
	); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT barcode, item_id FROM alternate_barcodes ORDER BY barcode`,
	)
	if err != nil {
		return nil, fmt.Errorf("exporting barcodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ab model.AlternateBarcode
		if err := rows.Scan(&ab.Barcode, &ab.ItemID); err != nil {
			return nil, fmt.Errorf("scanning barcode: %w", err)
		}
		snap.Barcodes = append(snap.Barcodes, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

// ImportSnapshot merges a snapshot into the local dataset:
//   - categories/locations insert only if absent by name, never merged or
//     renamed; name collisions are silently ignored
//   - items merge by id with last-write-wins on last_modified; local wins
//     ties; dangling category/location references are nulled, not rejected
//   - alternate barcodes merge additively when the referenced item exists
//   - deletions never propagate: a missing id on the incoming side leaves
//     the local row untouched
func ImportSnapshot(ctx context.Context, db *sql.DB, snap *model.Snapshot) (*ImportStats, error) {
	if snap.SchemaVersion > model.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d not supported", snap.SchemaVersion)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stats := &ImportStats{}

	for _, c := range snap.Categories {
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (id, name) VALUES (?, ?)`, c.ID, c.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("importing category: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			stats.CategoriesAdded++
		}
	}

	for _, l := range snap.Locations {
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO locations (id, name) VALUES (?, ?)`, l.ID, l.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("importing location: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			stats.LocationsAdded++
		}
	}

	for _, incoming := range snap.Items {
		if incoming.ID == "" {
			stats.ItemsSkipped++
			continue
		}

		// Revalidate weak references against the local collections.
		cleared, err := sanitizeRefs(ctx, tx, &incoming)
		if err != nil {
			return nil, err
		}
		stats.ReferencesCleared += cleared
		if incoming.Quantity < 0 {
			incoming.Quantity = 0
		}

		local, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id = ?`, incoming.ID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			if err := insertSnapshotItem(ctx, tx, &incoming); err != nil {
				return nil, err
			}
			stats.ItemsInserted++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting local item: %w", err)
		}

		// LWW by last_modified; local wins ties.
		if incoming.LastModified <= local.LastModified {
			stats.ItemsSkipped++
			continue
		}
		if err := overwriteSnapshotItem(ctx, tx, &incoming); err != nil {
			return nil, err
		}
		stats.ItemsUpdated++
	}

	for _, ab := range snap.Barcodes {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM items WHERE id = ?`, ab.ItemID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking barcode item: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO alternate_barcodes (barcode, item_id) VALUES (?, ?)`,
			ab.Barcode, ab.ItemID,
		)
		if err != nil {
			return nil, fmt.Errorf("importing barcode: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			stats.BarcodesAdded++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot import: %w", err)
	}
	return stats, nil
}

// sanitizeRefs nulls category/location references that don't resolve
// locally, returning how many were cleared.
func sanitizeRefs(ctx context.Context, tx *sql.Tx, item *model.Item) (int, error) {
	cleared := 0
	if item.CategoryID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM categories WHERE id = ?`, item.CategoryID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			item.CategoryID = ""
			cleared++
		} else if err != nil {
			return 0, fmt.Errorf("checking category reference: %w", err)
		}
	}
	if item.LocationID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM locations WHERE id = ?`, item.LocationID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			item.LocationID = ""
			cleared++
		} else if err != nil {
			return 0, fmt.Errorf("checking location reference: %w", err)
		}
	}
	return cleared, nil
}

func insertSnapshotItem(ctx context.Context, tx *sql.Tx, item *model.Item) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO items (id, name, quantity, barcode, barcode_corrupted, serial,
		                    category_id, location_id, deleted, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Quantity, nullable(item.Barcode), item.BarcodeCorrupted,
		nullable(item.Serial), nullable(item.CategoryID), nullable(item.LocationID),
		item.Deleted, item.LastModified,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot item: %w", err)
	}
	return nil
}

// overwriteSnapshotItem replaces all sync fields of an existing row. The
// photo columns are left alone: photos don't travel in snapshots.
func overwriteSnapshotItem(ctx context.Context, tx *sql.Tx, item *model.Item) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE items SET name = ?, quantity = ?, barcode = ?, barcode_corrupted = ?,
		        serial = ?, category_id = ?, location_id = ?, deleted = ?, last_modified = ?
		 WHERE id = ?`,
		item.Name, item.Quantity, nullable(item.Barcode), item.BarcodeCorrupted,
		nullable(item.Serial), nullable(item.CategoryID), nullable(item.LocationID),
		item.Deleted, item.LastModified, item.ID,
	)
	if err != nil {
		return fmt.Errorf("overwriting snapshot item: %w", err)
	}
	return nil
}
