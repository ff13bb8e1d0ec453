package store

import (
	"errors"
	"fmt"

	"github.com/matejg/zaloga/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist (or is
// soft-deleted, for operations that only act on live items).
var ErrNotFound = errors.New("not found")

// ConflictError is an LWW rejection: the caller's asserted last_modified was
// older than the stored one. Item carries the server's current copy so the
// client can reconcile.
type ConflictError struct {
	Item *model.Item
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item %s modified at %d, stale update rejected", e.Item.ID, e.Item.LastModified)
}

// BarcodeOwnedError is returned when attaching an alternate barcode that is
// already attached to a different item.
type BarcodeOwnedError struct {
	Barcode string
	ItemID  string // the owning item
}

func (e *BarcodeOwnedError) Error() string {
	return fmt.Sprintf("barcode %q already attached to item %s", e.Barcode, e.ItemID)
}
