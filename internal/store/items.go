package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matejg/zaloga/internal/model"
)

// nowMillis returns the server's logical timestamp for last_modified fields.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// bumpAfter returns a last_modified strictly greater than prev, so that
// consecutive writes within the same millisecond stay ordered.
func bumpAfter(prev int64) int64 {
	now := nowMillis()
	if now <= prev {
		return prev + 1
	}
	return now
}

const itemColumns = `id, name, quantity, barcode, barcode_corrupted, serial,
	category_id, location_id, photo_mime, deleted, last_modified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var barcode, serial, categoryID, locationID, photoMime sql.NullString
	err := row.Scan(&item.ID, &item.Name, &item.Quantity, &barcode, &item.BarcodeCorrupted,
		&serial, &categoryID, &locationID, &photoMime, &item.Deleted, &item.LastModified)
	if err != nil {
		return nil, err
	}
	item.Barcode = barcode.String
	item.Serial = serial.String
	item.CategoryID = categoryID.String
	item.LocationID = locationID.String
	item.PhotoMime = photoMime.String
	return item, nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateItem creates a new item with a server-assigned id and last_modified.
func CreateItem(ctx context.Context, db *sql.DB, item model.Item) (*model.Item, error) {
	item.ID = uuid.NewString()
	item.LastModified = nowMillis()
	item.Deleted = false

	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, name, quantity, barcode, barcode_corrupted, serial,
		                    category_id, location_id, deleted, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		item.ID, item.Name, item.Quantity, nullable(item.Barcode), item.BarcodeCorrupted,
		nullable(item.Serial), nullable(item.CategoryID), nullable(item.LocationID), item.LastModified,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return GetItem(ctx, db, item.ID)
}

// GetItem returns an item by id, including soft-deleted ones.
func GetItem(ctx context.Context, db *sql.DB, id string) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ItemFilter narrows ListItems results. Query matches item name (substring),
// primary barcode, serial number, or any attached alternate barcode (exact).
type ItemFilter struct {
	Query          string
	CategoryID     string
	LocationID     string
	Since          int64 // last_modified strictly greater than
	IncludeDeleted bool
}

// ListItems lists items matching the filter, plus the ids of soft-deleted
// items modified after the filter's Since, so sync clients can drop them
// from local caches.
func ListItems(ctx context.Context, db *sql.DB, f ItemFilter) ([]model.Item, []string, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if !f.IncludeDeleted {
		query += ` AND deleted = 0`
	}
	if f.Query != "" {
		query += ` AND (name LIKE ? OR barcode = ? OR serial = ?
		           OR id IN (SELECT item_id FROM alternate_barcodes WHERE barcode = ?))`
		args = append(args, "%"+f.Query+"%", f.Query, f.Query, f.Query)
	}
	if f.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.LocationID != "" {
		query += ` AND location_id = ?`
		args = append(args, f.LocationID)
	}
	if f.Since > 0 {
		query += ` AND last_modified > ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	deleted, err := deletedItemIDs(ctx, db, f.Since)
	if err != nil {
		return nil, nil, err
	}
	return items, deleted, nil
}

// deletedItemIDs returns ids of soft-deleted items modified after since.
func deletedItemIDs(ctx context.Context, db *sql.DB, since int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM items WHERE deleted = 1 AND last_modified > ?`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deleted items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning deleted item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateItem applies a partial update guarded by LWW: if the caller's
// asserted last_modified is older than the stored one, the update is
// rejected with a ConflictError carrying the server's current copy.
func UpdateItem(ctx context.Context, db *sql.DB, id string, asserted int64, patch model.ItemPatch) (*model.Item, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND deleted = 0`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting item for update: %w", err)
	}

	if asserted < current.LastModified {
		return nil, &ConflictError{Item: current}
	}

	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.Quantity != nil {
		current.Quantity = *patch.Quantity
	}
	if patch.Barcode != nil {
		current.Barcode = *patch.Barcode
	}
	if patch.BarcodeCorrupted != nil {
		current.BarcodeCorrupted = *patch.BarcodeCorrupted
	}
	if patch.Serial != nil {
		current.Serial = *patch.Serial
	}
	if patch.CategoryID != nil {
		current.CategoryID = *patch.CategoryID
	}
	if patch.LocationID != nil {
		current.LocationID = *patch.LocationID
	}
	if current.Quantity < 0 {
		current.Quantity = 0
	}
	current.LastModified = bumpAfter(current.LastModified)

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET name = ?, quantity = ?, barcode = ?, barcode_corrupted = ?,
		        serial = ?, category_id = ?, location_id = ?, last_modified = ?
		 WHERE id = ?`,
		current.Name, current.Quantity, nullable(current.Barcode), current.BarcodeCorrupted,
		nullable(current.Serial), nullable(current.CategoryID), nullable(current.LocationID),
		current.LastModified, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing item update: %w", err)
	}
	return current, nil
}

// DeleteItem soft-deletes an item. The row stays so the id remains stable
// for sync; there is no physical deletion at this layer.
func DeleteItem(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET deleted = 1, last_modified = ? WHERE id = ? AND deleted = 0`,
		nowMillis(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetItemPhoto stores an item's photo. Bumps last_modified so sync clients
// refetch the item row.
func SetItemPhoto(ctx context.Context, db *sql.DB, id string, photo []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET photo = ?, photo_mime = ?, last_modified = ?
		 WHERE id = ? AND deleted = 0`,
		photo, mime, nowMillis(), id,
	)
	if err != nil {
		return fmt.Errorf("setting item photo: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking photo update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetItemPhoto returns an item's photo data and MIME type.
func GetItemPhoto(ctx context.Context, db *sql.DB, id string) ([]byte, string, error) {
	var photo []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT photo, photo_mime FROM items WHERE id = ?`, id,
	).Scan(&photo, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item photo: %w", err)
	}
	return photo, mime.String, nil
}
