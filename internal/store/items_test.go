package store

import (
	"context"
	"errors"
	"testing"

	"github.com/matejg/zaloga/internal/db"
	"github.com/matejg/zaloga/internal/model"
)

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, err := CreateItem(ctx, database, model.Item{Name: "AA Battery", Quantity: 3, Barcode: "BAT-001"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.ID == "" {
		t.Error("expected server-assigned id")
	}
	if item.LastModified == 0 {
		t.Error("expected last_modified to be set")
	}

	got, err := GetItem(ctx, database, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Name != "AA Battery" || got.Quantity != 3 || got.Barcode != "BAT-001" {
		t.Errorf("unexpected item: %+v", got)
	}
}

func TestUpdateItemPatch(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Cable", Quantity: 2})

	name := "HDMI Cable"
	qty := 5
	updated, err := UpdateItem(ctx, database, item.ID, item.LastModified, model.ItemPatch{Name: &name, Quantity: &qty})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if updated.Name != "HDMI Cable" || updated.Quantity != 5 {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.LastModified <= item.LastModified {
		t.Error("expected last_modified to advance")
	}
}

func TestUpdateItemStaleAssertionRejected(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Mouse", Quantity: 1})

	// First writer wins.
	qty := 4
	updated, err := UpdateItem(ctx, database, item.ID, item.LastModified, model.ItemPatch{Quantity: &qty})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	// Second writer asserts the original, now stale, timestamp.
	name := "Wireless Mouse"
	_, err = UpdateItem(ctx, database, item.ID, item.LastModified, model.ItemPatch{Name: &name})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Item.Quantity != 4 || conflict.Item.LastModified != updated.LastModified {
		t.Errorf("conflict should carry the server's current copy, got %+v", conflict.Item)
	}

	// The stale write must not have touched the row.
	got, _ := GetItem(ctx, database, item.ID)
	if got.Name != "Mouse" {
		t.Errorf("stale update leaked through, name %q", got.Name)
	}
}

func TestUpdateItemMatchingAssertionSucceeds(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Keyboard"})
	qty := 7
	if _, err := UpdateItem(ctx, database, item.ID, item.LastModified, model.ItemPatch{Quantity: &qty}); err != nil {
		t.Fatalf("update with matching assertion should succeed: %v", err)
	}
}

func TestUpdateItemQuantityFloor(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Widget", Quantity: 2})
	qty := -5
	updated, err := UpdateItem(ctx, database, item.ID, item.LastModified, model.ItemPatch{Quantity: &qty})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if updated.Quantity != 0 {
		t.Errorf("expected quantity clamped to 0, got %d", updated.Quantity)
	}
}

func TestSoftDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Old Stock"})
	if err := DeleteItem(ctx, database, item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	items, deleted, err := ListItems(ctx, database, ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected 0 live items, got %d", len(items))
	}
	if len(deleted) != 1 || deleted[0] != item.ID {
		t.Errorf("expected deleted id reported, got %v", deleted)
	}

	// Still fetchable by id: the row survives for sync.
	got, _ := GetItem(ctx, database, item.ID)
	if got == nil || !got.Deleted {
		t.Error("expected soft-deleted item to remain fetchable")
	}

	// Deleting twice reports not found.
	if err := DeleteItem(ctx, database, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestUpdateDeletedItemNotFound(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Gone"})
	DeleteItem(ctx, database, item.ID)

	name := "Back"
	if _, err := UpdateItem(ctx, database, item.ID, item.LastModified+1000, model.ItemPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating deleted item, got %v", err)
	}
}

func TestListItemsSearch(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	laptop, _ := CreateItem(ctx, database, model.Item{Name: "Laptop", Barcode: "LAP-001", Serial: "SN-42"})
	CreateItem(ctx, database, model.Item{Name: "Charger", Barcode: "CHG-001"})
	AttachBarcode(ctx, database, laptop.ID, "ALT-LAP")

	cases := []struct {
		query string
		want  int
	}{
		{"Lap", 1},     // name substring
		{"LAP-001", 1}, // primary barcode
		{"SN-42", 1},   // serial
		{"ALT-LAP", 1}, // alternate barcode
		{"nothing", 0},
	}
	for _, c := range cases {
		items, _, err := ListItems(ctx, database, ItemFilter{Query: c.query})
		if err != nil {
			t.Fatalf("ListItems(%q): %v", c.query, err)
		}
		if len(items) != c.want {
			t.Errorf("query %q: expected %d items, got %d", c.query, c.want, len(items))
		}
	}
}

func TestListItemsSince(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	old, _ := CreateItem(ctx, database, model.Item{Name: "Old"})
	qty := 9
	updated, _ := UpdateItem(ctx, database, old.ID, old.LastModified, model.ItemPatch{Quantity: &qty})

	items, _, err := ListItems(ctx, database, ItemFilter{Since: old.LastModified})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].LastModified != updated.LastModified {
		t.Errorf("expected only the updated row past since, got %v", items)
	}

	items, _, _ = ListItems(ctx, database, ItemFilter{Since: updated.LastModified})
	if len(items) != 0 {
		t.Errorf("since is exclusive, expected 0 items, got %d", len(items))
	}
}

func TestItemPhoto(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Photo Item"})
	if err := SetItemPhoto(ctx, database, item.ID, []byte("fake image data"), "image/jpeg"); err != nil {
		t.Fatalf("SetItemPhoto: %v", err)
	}

	data, mime, err := GetItemPhoto(ctx, database, item.ID)
	if err != nil {
		t.Fatalf("GetItemPhoto: %v", err)
	}
	if string(data) != "fake image data" || mime != "image/jpeg" {
		t.Errorf("unexpected photo %q %q", data, mime)
	}

	// Photo writes must bump last_modified so sync clients refetch.
	got, _ := GetItem(ctx, database, item.ID)
	if got.LastModified < item.LastModified {
		t.Error("expected last_modified to move forward after photo write")
	}
}
