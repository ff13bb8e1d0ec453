package api

import (
	"net/http"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/registry"
)

// InventoriesHandler handles inventory administration endpoints.
type InventoriesHandler struct {
	Registry *registry.Registry
}

type createInventoryRequest struct {
	Name string `json:"name"`
}

type setActiveRequest struct {
	ID string `json:"id"`
}

// List handles GET /api/inventories.
func (h *InventoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Registry.List(r.Context())
	if err != nil {
		storeError(w, err, "list inventories")
		return
	}
	if invs == nil {
		invs = []model.Inventory{}
	}

	active, err := h.Registry.Active(r.Context())
	if err != nil {
		storeError(w, err, "list inventories")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"inventories": invs,
		"active":      active,
	})
}

// Create handles POST /api/inventories: registers a new inventory and
// provisions its dataset.
func (h *InventoriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "name required")
		return
	}

	inv, err := h.Registry.Create(r.Context(), req.Name)
	if err != nil {
		storeError(w, err, "create inventory")
		return
	}
	jsonResponse(w, http.StatusCreated, inv)
}

// SetActive handles PUT /api/inventories/active.
func (h *InventoriesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	if err := h.Registry.SetActive(r.Context(), req.ID); err != nil {
		storeError(w, err, "set active inventory")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"active": req.ID})
}
