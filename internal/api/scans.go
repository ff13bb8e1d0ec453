package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// ScansHandler handles scan submission, barcode resolution, and the scan
// log.
type ScansHandler struct{}

type scanBatchRequest struct {
	Events []store.ScanInput `json:"events"`
}

type scanBatchResponse struct {
	ServerTime int64               `json:"server_time"`
	Results    []store.ScanOutcome `json:"results"`
}

// Submit handles POST /api/scans. Per-event outcomes (not_found, ambiguous,
// duplicate, error) are never top-level errors: the batch response is HTTP
// success with a per-event status, in request order.
func (h *ScansHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req scanBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	if len(req.Events) == 0 {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "no events")
		return
	}
	if len(req.Events) > store.MaxScanBatch {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("at most %d events per batch", store.MaxScanBatch))
		return
	}

	results := store.ApplyScanBatch(r.Context(), InventoryDB(r.Context()), req.Events)

	jsonResponse(w, http.StatusOK, scanBatchResponse{
		ServerTime: time.Now().UnixMilli(),
		Results:    results,
	})
}

type resolveResponse struct {
	Action string       `json:"action"` // found | multiple | not_found
	Item   *model.Item  `json:"item,omitempty"`
	Items  []model.Item `json:"items,omitempty"`
}

// Resolve handles GET /api/resolve/{barcode}: a read-only barcode lookup
// with the same precedence rules as scan application.
func (h *ScansHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	barcode := r.PathValue("barcode")

	items, err := store.ResolveBarcode(r.Context(), InventoryDB(r.Context()), barcode)
	if err != nil {
		storeError(w, err, "resolve barcode")
		return
	}

	var resp resolveResponse
	switch len(items) {
	case 0:
		resp.Action = "not_found"
	case 1:
		resp.Action = "found"
		resp.Item = &items[0]
	default:
		resp.Action = "multiple"
		resp.Items = items
	}
	jsonResponse(w, http.StatusOK, resp)
}

// ListLog handles GET /api/scans: the most recent scan log entries.
func (h *ScansHandler) ListLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid limit")
			return
		}
		limit = v
	}

	events, err := store.ListScanEvents(r.Context(), InventoryDB(r.Context()), limit)
	if err != nil {
		storeError(w, err, "list scan events")
		return
	}
	if events == nil {
		events = []model.ScanEvent{}
	}
	jsonResponse(w, http.StatusOK, events)
}
