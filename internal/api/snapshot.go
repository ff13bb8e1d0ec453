package api

import (
	"net/http"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// SnapshotHandler handles full-dataset export and import for reconciling two
// independently operated copies of an inventory.
type SnapshotHandler struct{}

// Export handles GET /api/snapshot.
func (h *SnapshotHandler) Export(w http.ResponseWriter, r *http.Request) {
	snap, err := store.ExportSnapshot(r.Context(), InventoryDB(r.Context()))
	if err != nil {
		storeError(w, err, "export snapshot")
		return
	}
	jsonResponse(w, http.StatusOK, snap)
}

// Import handles POST /api/snapshot: merges the posted snapshot into the
// resolved inventory with last-write-wins item semantics.
func (h *SnapshotHandler) Import(w http.ResponseWriter, r *http.Request) {
	var snap model.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid snapshot body")
		return
	}

	if snap.SchemaVersion > model.SnapshotSchemaVersion {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "snapshot schema version not supported")
		return
	}

	stats, err := store.ImportSnapshot(r.Context(), InventoryDB(r.Context()), &snap)
	if err != nil {
		storeError(w, err, "import snapshot")
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}
