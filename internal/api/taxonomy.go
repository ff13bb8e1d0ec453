package api

import (
	"net/http"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// TaxonomyHandler handles category and location endpoints. Deleting either
// nulls references on items that used it; items themselves are untouched.
type TaxonomyHandler struct{}

type createNamedRequest struct {
	Name string `json:"name"`
}

// ListCategories handles GET /api/categories.
func (h *TaxonomyHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := store.ListCategories(r.Context(), InventoryDB(r.Context()))
	if err != nil {
		storeError(w, err, "list categories")
		return
	}
	if cats == nil {
		cats = []model.Category{}
	}
	jsonResponse(w, http.StatusOK, cats)
}

// CreateCategory handles POST /api/categories.
func (h *TaxonomyHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createNamedRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "name required")
		return
	}

	cat, err := store.CreateCategory(r.Context(), InventoryDB(r.Context()), req.Name)
	if err != nil {
		storeError(w, err, "create category")
		return
	}
	jsonResponse(w, http.StatusCreated, cat)
}

// DeleteCategory handles DELETE /api/categories/{id}.
func (h *TaxonomyHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteCategory(r.Context(), InventoryDB(r.Context()), r.PathValue("id")); err != nil {
		storeError(w, err, "delete category")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "category deleted"})
}

// ListLocations handles GET /api/locations.
func (h *TaxonomyHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := store.ListLocations(r.Context(), InventoryDB(r.Context()))
	if err != nil {
		storeError(w, err, "list locations")
		return
	}
	if locs == nil {
		locs = []model.Location{}
	}
	jsonResponse(w, http.StatusOK, locs)
}

// CreateLocation handles POST /api/locations.
func (h *TaxonomyHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createNamedRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "name required")
		return
	}

	loc, err := store.CreateLocation(r.Context(), InventoryDB(r.Context()), req.Name)
	if err != nil {
		storeError(w, err, "create location")
		return
	}
	jsonResponse(w, http.StatusCreated, loc)
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *TaxonomyHandler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteLocation(r.Context(), InventoryDB(r.Context()), r.PathValue("id")); err != nil {
		storeError(w, err, "delete location")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "location deleted"})
}
