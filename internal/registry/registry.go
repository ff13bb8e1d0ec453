// Package registry owns the map of inventory id to open dataset handle.
// Every data-plane request resolves to exactly one per-inventory database
// through it, which is what keeps distinct inventories isolated.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/matejg/zaloga/internal/db"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// ErrUnknownInventory is returned when a selector names an inventory the
// registry doesn't know. Requests carrying one fail whole; there is no
// partial fallback.
var ErrUnknownInventory = errors.New("unknown inventory")

// DefaultInventoryName is the inventory created on first run and used when
// neither a selector nor an active inventory is set.
const DefaultInventoryName = "default"

const activeInventoryKey = "active_inventory"

// Registry maps inventory ids to open store handles. Handles are opened
// lazily, cached for the process lifetime, and closed only at shutdown.
// The registry is constructed by the composition root and injected; it is
// not a global.
type Registry struct {
	registryDB *sql.DB
	dataDir    string

	mu      sync.Mutex
	handles map[string]*sql.DB
}

// New creates a registry backed by the given registry database. Inventory
// database files are created under dataDir.
func New(registryDB *sql.DB, dataDir string) *Registry {
	return &Registry{
		registryDB: registryDB,
		dataDir:    dataDir,
		handles:    make(map[string]*sql.DB),
	}
}

// EnsureDefault creates the default inventory and marks it active if the
// registry is empty. Idempotent.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	invs, err := r.List(ctx)
	if err != nil {
		return err
	}
	if len(invs) > 0 {
		return nil
	}

	inv, err := r.Create(ctx, DefaultInventoryName)
	if err != nil {
		return err
	}
	return r.SetActive(ctx, inv.ID)
}

// Create registers a new inventory and provisions its database file.
func (r *Registry) Create(ctx context.Context, name string) (*model.Inventory, error) {
	if name == "" {
		return nil, fmt.Errorf("inventory name required")
	}

	inv := &model.Inventory{
		ID:     uuid.NewString(),
		Name:   name,
		DBPath: filepath.Join(r.dataDir, name+".sqlite3"),
	}

	handle, err := db.Open(inv.DBPath)
	if err != nil {
		return nil, fmt.Errorf("provisioning inventory database: %w", err)
	}
	if err := db.EnsureInventorySchema(handle); err != nil {
		handle.Close()
		return nil, err
	}

	_, err = r.registryDB.ExecContext(ctx,
		`INSERT INTO inventories (id, name, db_path) VALUES (?, ?, ?)`,
		inv.ID, inv.Name, inv.DBPath,
	)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("registering inventory: %w", err)
	}

	r.mu.Lock()
	r.handles[inv.ID] = handle
	r.mu.Unlock()

	return inv, nil
}

// List returns all registered inventories.
func (r *Registry) List(ctx context.Context) ([]model.Inventory, error) {
	rows, err := r.registryDB.QueryContext(ctx,
		`SELECT id, name, db_path FROM inventories ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing inventories: %w", err)
	}
	defer rows.Close()

	var invs []model.Inventory
	for rows.Next() {
		var inv model.Inventory
		if err := rows.Scan(&inv.ID, &inv.Name, &inv.DBPath); err != nil {
			return nil, fmt.Errorf("scanning inventory: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// Get returns one inventory by id.
func (r *Registry) Get(ctx context.Context, id string) (*model.Inventory, error) {
	var inv model.Inventory
	err := r.registryDB.QueryRowContext(ctx,
		`SELECT id, name, db_path FROM inventories WHERE id = ?`, id,
	).Scan(&inv.ID, &inv.Name, &inv.DBPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownInventory
	}
	if err != nil {
		return nil, fmt.Errorf("getting inventory: %w", err)
	}
	return &inv, nil
}

// Active returns the active inventory id, or "" if unset.
func (r *Registry) Active(ctx context.Context) (string, error) {
	return store.GetSetting(ctx, r.registryDB, activeInventoryKey)
}

// SetActive marks an inventory as the one requests without a selector go to.
func (r *Registry) SetActive(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return store.SetSetting(ctx, r.registryDB, activeInventoryKey, id)
}

// Resolve maps a request selector to an inventory id and its open store
// handle. An empty selector falls back to the active inventory, then to the
// inventory named "default". An unknown selector fails the request.
func (r *Registry) Resolve(ctx context.Context, selector string) (string, *sql.DB, error) {
	id := selector
	if id == "" {
		active, err := r.Active(ctx)
		if err != nil {
			return "", nil, err
		}
		id = active
	}
	if id == "" {
		var err error
		id, err = r.idByName(ctx, DefaultInventoryName)
		if err != nil {
			return "", nil, err
		}
	}

	handle, err := r.Store(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, handle, nil
}

// Store returns the open database handle for an inventory id, opening it on
// first use.
func (r *Registry) Store(ctx context.Context, id string) (*sql.DB, error) {
	r.mu.Lock()
	if handle, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return handle, nil
	}
	r.mu.Unlock()

	inv, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	handle, err := db.Open(inv.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening inventory database: %w", err)
	}
	if err := db.EnsureInventorySchema(handle); err != nil {
		handle.Close()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have opened it while we weren't holding the lock.
	if existing, ok := r.handles[id]; ok {
		handle.Close()
		return existing, nil
	}
	r.handles[id] = handle
	return handle, nil
}

func (r *Registry) idByName(ctx context.Context, name string) (string, error) {
	var id string
	err := r.registryDB.QueryRowContext(ctx,
		`SELECT id FROM inventories WHERE name = ?`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownInventory
	}
	if err != nil {
		return "", fmt.Errorf("looking up inventory by name: %w", err)
	}
	return id, nil
}

// Close closes all cached inventory handles. Call only at shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, handle := range r.handles {
		if err := handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.handles, id)
	}
	return firstErr
}
