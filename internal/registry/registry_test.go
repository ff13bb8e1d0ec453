package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/matejg/zaloga/internal/db"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registryDB := db.NewTestRegistry(t)
	reg := New(registryDB, t.TempDir())
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEnsureDefault(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	// Idempotent.
	if err := reg.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault twice: %v", err)
	}

	invs, _ := reg.List(ctx)
	if len(invs) != 1 || invs[0].Name != DefaultInventoryName {
		t.Fatalf("expected one default inventory, got %v", invs)
	}

	active, _ := reg.Active(ctx)
	if active != invs[0].ID {
		t.Errorf("expected default marked active, got %q", active)
	}
}

func TestInventoriesAreIsolated(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, "warehouse-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := reg.Create(ctx, "warehouse-b")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dbA, _ := reg.Store(ctx, a.ID)
	dbB, _ := reg.Store(ctx, b.ID)

	if _, err := store.CreateItem(ctx, dbA, model.Item{Name: "Only In A"}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	itemsA, _, _ := store.ListItems(ctx, dbA, store.ItemFilter{})
	itemsB, _, _ := store.ListItems(ctx, dbB, store.ItemFilter{})
	if len(itemsA) != 1 || len(itemsB) != 0 {
		t.Errorf("expected writes isolated per inventory, got %d/%d", len(itemsA), len(itemsB))
	}
}

func TestResolveFallbackChain(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	other, _ := reg.Create(ctx, "other")

	// Explicit selector wins.
	id, _, err := reg.Resolve(ctx, other.ID)
	if err != nil || id != other.ID {
		t.Errorf("expected explicit selector honored, got %q (%v)", id, err)
	}

	// Empty selector falls back to the active inventory.
	reg.SetActive(ctx, other.ID)
	id, _, err = reg.Resolve(ctx, "")
	if err != nil || id != other.ID {
		t.Errorf("expected active inventory, got %q (%v)", id, err)
	}
}

func TestResolveUnknownSelectorFails(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	reg.EnsureDefault(ctx)

	// An unknown selector fails whole, it never silently falls back.
	if _, _, err := reg.Resolve(ctx, "no-such-inventory"); !errors.Is(err, ErrUnknownInventory) {
		t.Errorf("expected ErrUnknownInventory, got %v", err)
	}
}

func TestStoreHandleCached(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	inv, _ := reg.Create(ctx, "warehouse")

	first, err := reg.Store(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	second, _ := reg.Store(ctx, inv.ID)
	if first != second {
		t.Error("expected the same cached handle")
	}
}

func TestSetActiveUnknownInventory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.SetActive(ctx, "missing"); !errors.Is(err, ErrUnknownInventory) {
		t.Errorf("expected ErrUnknownInventory, got %v", err)
	}
}
