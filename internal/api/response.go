package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/matejg/zaloga/internal/registry"
	"github.com/matejg/zaloga/internal/store"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeValidationFailed  = "validation_failed"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInventoryNotFound = "inventory_not_found"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeInternalError     = "internal_error"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response with a machine-readable code.
func jsonError(w http.ResponseWriter, status int, code, message string) {
	jsonResponse(w, status, map[string]string{"error": message, "code": code})
}

// storeError maps store and registry errors to responses. Conflict errors
// carry their payload (the server's current item, or the owning item id) so
// clients can reconcile.
func storeError(w http.ResponseWriter, err error, action string) {
	var conflict *store.ConflictError
	var owned *store.BarcodeOwnedError

	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, http.StatusNotFound, CodeNotFound, action+": not found")
	case errors.As(err, &conflict):
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error": "item was modified more recently",
			"code":  CodeConflict,
			"item":  conflict.Item,
		})
	case errors.As(err, &owned):
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error":   "barcode already attached to another item",
			"code":    CodeConflict,
			"barcode": owned.Barcode,
			"item_id": owned.ItemID,
		})
	case errors.Is(err, registry.ErrUnknownInventory):
		jsonError(w, http.StatusNotFound, CodeInventoryNotFound, "unknown inventory")
	default:
		slog.Error("request failed", "action", action, "error", err)
		jsonError(w, http.StatusInternalServerError, CodeInternalError, "failed to "+action)
	}
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
