package model

// Item represents one tracked inventory item. Items are never physically
// removed; deletion flips the Deleted flag so the id stays stable for sync.
type Item struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Quantity         int    `json:"quantity"`
	Barcode          string `json:"barcode,omitempty"`
	BarcodeCorrupted bool   `json:"barcode_corrupted,omitempty"`
	Serial           string `json:"serial,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	LocationID       string `json:"location_id,omitempty"`
	PhotoMime        string `json:"photo_mime,omitempty"`
	Deleted          bool   `json:"deleted,omitempty"`
	LastModified     int64  `json:"last_modified"` // unix milliseconds
}

// Category groups items. References from items are weak: deleting a
// category nulls the reference, it does not delete items.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location is a physical place items are stored at. Same weak-reference
// semantics as Category.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AlternateBarcode maps a secondary barcode to an item. A barcode can be
// attached to at most one item, independent of items' own barcode fields.
type AlternateBarcode struct {
	Barcode string `json:"barcode"`
	ItemID  string `json:"item_id"`
}

// ItemPatch describes a partial item update. Nil fields are left unchanged;
// an empty string for CategoryID or LocationID clears the reference.
type ItemPatch struct {
	Name             *string `json:"name,omitempty"`
	Quantity         *int    `json:"quantity,omitempty"`
	Barcode          *string `json:"barcode,omitempty"`
	BarcodeCorrupted *bool   `json:"barcode_corrupted,omitempty"`
	Serial           *string `json:"serial,omitempty"`
	CategoryID       *string `json:"category_id,omitempty"`
	LocationID       *string `json:"location_id,omitempty"`
}
