package model

// SnapshotSchemaVersion is bumped when the snapshot format changes in a way
// older servers cannot import.
const SnapshotSchemaVersion = 1

// Snapshot is a full point-in-time export of one inventory's dataset,
// used to reconcile two independently operated copies. Item photos are
// deliberately excluded for size.
type Snapshot struct {
	SchemaVersion int                `json:"schema_version"`
	ExportedAt    int64              `json:"exported_at"` // unix milliseconds
	Categories    []Category         `json:"categories"`
	Locations     []Location         `json:"locations"`
	Items         []Item             `json:"items"`
	Barcodes      []AlternateBarcode `json:"barcodes"`
}

// Inventory is a registry entry describing one isolated dataset.
type Inventory struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	DBPath string `json:"db_path"`
}
