package api

import (
	"net/http"
	"strconv"

	"github.com/matejg/zaloga/internal/imaging"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// ItemsHandler handles item CRUD endpoints. The target store comes from the
// request context, resolved by the inventory selector middleware.
type ItemsHandler struct{}

type createItemRequest struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Barcode    string `json:"barcode"`
	Serial     string `json:"serial"`
	CategoryID string `json:"category_id"`
	LocationID string `json:"location_id"`
}

type updateItemRequest struct {
	LastModified int64           `json:"last_modified"`
	Patch        model.ItemPatch `json:"patch"`
}

type itemListResponse struct {
	Items   []model.Item `json:"items"`
	Deleted []string     `json:"deleted"`
}

// List handles GET /api/items with free-text, category, location, since, and
// include-deleted filters.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ItemFilter{
		Query:          q.Get("q"),
		CategoryID:     q.Get("category"),
		LocationID:     q.Get("location"),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	if since := q.Get("since"); since != "" {
		v, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid since timestamp")
			return
		}
		filter.Since = v
	}

	items, deleted, err := store.ListItems(r.Context(), InventoryDB(r.Context()), filter)
	if err != nil {
		storeError(w, err, "list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	if deleted == nil {
		deleted = []string{}
	}
	jsonResponse(w, http.StatusOK, itemListResponse{Items: items, Deleted: deleted})
}

// Create handles POST /api/items. Returns the canonical item with the
// server-assigned id and last_modified.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "name required")
		return
	}
	if req.Quantity < 0 {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "quantity must not be negative")
		return
	}

	item, err := store.CreateItem(r.Context(), InventoryDB(r.Context()), model.Item{
		Name:       req.Name,
		Quantity:   req.Quantity,
		Barcode:    req.Barcode,
		Serial:     req.Serial,
		CategoryID: req.CategoryID,
		LocationID: req.LocationID,
	})
	if err != nil {
		storeError(w, err, "create item")
		return
	}

	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	item, err := store.GetItem(r.Context(), InventoryDB(r.Context()), id)
	if err != nil {
		storeError(w, err, "get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, CodeNotFound, "item not found")
		return
	}

	barcodes, err := store.ListBarcodes(r.Context(), InventoryDB(r.Context()), id)
	if err != nil {
		storeError(w, err, "get item barcodes")
		return
	}
	if barcodes == nil {
		barcodes = []string{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"item":     item,
		"barcodes": barcodes,
	})
}

// Update handles PATCH /api/items/{id}. The caller asserts the
// last_modified it based the edit on; a stale assertion gets a conflict
// response carrying the server's current copy.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if req.Patch.Name != nil && *req.Patch.Name == "" {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "name must not be empty")
		return
	}

	item, err := store.UpdateItem(r.Context(), InventoryDB(r.Context()), id, req.LastModified, req.Patch)
	if err != nil {
		storeError(w, err, "update item")
		return
	}

	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/items/{id}: flips the deleted flag only.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := store.DeleteItem(r.Context(), InventoryDB(r.Context()), id); err != nil {
		storeError(w, err, "delete item")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadPhoto handles PUT /api/items/{id}/photo.
func (h *ItemsHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Limit to 5 MB.
	r.Body = http.MaxBytesReader(w, r.Body, 5<<20)

	result, err := imaging.Process(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	if err := store.SetItemPhoto(r.Context(), InventoryDB(r.Context()), id, result.Data, result.MIME); err != nil {
		storeError(w, err, "save photo")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "photo uploaded"})
}

// GetPhoto handles GET /api/items/{id}/photo.
func (h *ItemsHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, mime, err := store.GetItemPhoto(r.Context(), InventoryDB(r.Context()), id)
	if err != nil {
		storeError(w, err, "get photo")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, CodeNotFound, "no photo")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
