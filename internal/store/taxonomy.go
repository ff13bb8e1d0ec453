package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/matejg/zaloga/internal/model"
)

// CreateCategory creates a new category. Names are unique per inventory.
func CreateCategory(ctx context.Context, db *sql.DB, name string) (*model.Category, error) {
	cat := &model.Category{ID: uuid.NewString(), Name: name}
	_, err := db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?)`, cat.ID, cat.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("creating category: %w", err)
	}
	return cat, nil
}

// ListCategories returns all categories ordered by name.
func ListCategories(ctx context.Context, db *sql.DB) ([]model.Category, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// DeleteCategory removes a category and nulls the reference on items that
// used it. Affected items get a new last_modified so sync clients pick up
// the change.
func DeleteCategory(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET category_id = NULL, last_modified = ? WHERE category_id = ?`,
		nowMillis(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing category references: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing category delete: %w", err)
	}
	return nil
}

// CreateLocation creates a new location. Names are unique per inventory.
func CreateLocation(ctx context.Context, db *sql.DB, name string) (*model.Location, error) {
	loc := &model.Location{ID: uuid.NewString(), Name: name}
	_, err := db.ExecContext(ctx,
		`INSERT INTO locations (id, name) VALUES (?, ?)`, loc.ID, loc.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}
	return loc, nil
}

// ListLocations returns all locations ordered by name.
func ListLocations(ctx context.Context, db *sql.DB) ([]model.Location, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locs []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

// DeleteLocation removes a location and nulls the reference on items that
// used it.
func DeleteLocation(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET location_id = NULL, last_modified = ? WHERE location_id = ?`,
		nowMillis(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing location references: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting location: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing location delete: %w", err)
	}
	return nil
}
