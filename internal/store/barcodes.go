package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matejg/zaloga/internal/model"
)

// AttachBarcode maps an alternate barcode to an item. A barcode can belong
// to at most one item: attaching one that is already attached elsewhere
// fails with a BarcodeOwnedError naming the owning item. Re-attaching to the
// same item is a no-op.
func AttachBarcode(ctx context.Context, db *sql.DB, itemID, barcode string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT item_id FROM alternate_barcodes WHERE barcode = ?`, barcode,
	).Scan(&owner)
	if err == nil {
		if owner == itemID {
			return nil
		}
		return &BarcodeOwnedError{Barcode: barcode, ItemID: owner}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking barcode ownership: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM items WHERE id = ? AND deleted = 0`, itemID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking item: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alternate_barcodes (barcode, item_id) VALUES (?, ?)`,
		barcode, itemID,
	)
	if err != nil {
		return fmt.Errorf("attaching barcode: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing barcode attach: %w", err)
	}
	return nil
}

// DetachBarcode removes an alternate barcode mapping from an item.
func DetachBarcode(ctx context.Context, db *sql.DB, itemID, barcode string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM alternate_barcodes WHERE barcode = ? AND item_id = ?`,
		barcode, itemID,
	)
	if err != nil {
		return fmt.Errorf("detaching barcode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking detach result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBarcodes returns the alternate barcodes attached to an item.
func ListBarcodes(ctx context.Context, db *sql.DB, itemID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT barcode FROM alternate_barcodes WHERE item_id = ? ORDER BY barcode`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing barcodes: %w", err)
	}
	defer rows.Close()

	var barcodes []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scanning barcode: %w", err)
		}
		barcodes = append(barcodes, b)
	}
	return barcodes, rows.Err()
}

// ResolveBarcode returns the non-deleted candidate items for a barcode.
// Alternate-barcode mappings take precedence over items' own barcode fields:
// if any mapping matches, only mapped items are returned; the primary
// barcode column is consulted only when no mapping matches.
func ResolveBarcode(ctx context.Context, db *sql.DB, barcode string) ([]model.Item, error) {
	return resolveBarcode(ctx, db, barcode)
}

// querier lets resolution run against either the pool or a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func resolveBarcode(ctx context.Context, q querier, barcode string) ([]model.Item, error) {
	items, err := queryItems(ctx, q,
		`SELECT `+itemColumns+` FROM items
		 WHERE deleted = 0 AND id IN (SELECT item_id FROM alternate_barcodes WHERE barcode = ?)
		 ORDER BY name`, barcode,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}

	return queryItems(ctx, q,
		`SELECT `+itemColumns+` FROM items
		 WHERE deleted = 0 AND barcode = ?
		 ORDER BY name`, barcode,
	)
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
