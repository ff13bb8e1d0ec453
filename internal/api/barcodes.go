package api

import (
	"net/http"

	"github.com/matejg/zaloga/internal/store"
)

// BarcodesHandler handles alternate barcode attach/detach endpoints.
type BarcodesHandler struct{}

type attachBarcodeRequest struct {
	Barcode string `json:"barcode"`
}

// Attach handles POST /api/items/{id}/barcodes. If the barcode is already
// attached to another item, the conflict response names the owning item.
func (h *BarcodesHandler) Attach(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")

	var req attachBarcodeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if req.Barcode == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "barcode required")
		return
	}

	if err := store.AttachBarcode(r.Context(), InventoryDB(r.Context()), itemID, req.Barcode); err != nil {
		storeError(w, err, "attach barcode")
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]string{"message": "barcode attached"})
}

// Detach handles DELETE /api/items/{id}/barcodes/{barcode}.
func (h *BarcodesHandler) Detach(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	barcode := r.PathValue("barcode")

	if err := store.DetachBarcode(r.Context(), InventoryDB(r.Context()), itemID, barcode); err != nil {
		storeError(w, err, "detach barcode")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "barcode detached"})
}

// List handles GET /api/items/{id}/barcodes.
func (h *BarcodesHandler) List(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")

	barcodes, err := store.ListBarcodes(r.Context(), InventoryDB(r.Context()), itemID)
	if err != nil {
		storeError(w, err, "list barcodes")
		return
	}
	if barcodes == nil {
		barcodes = []string{}
	}
	jsonResponse(w, http.StatusOK, barcodes)
}
