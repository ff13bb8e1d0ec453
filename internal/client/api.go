package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// APIError is a structured error response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Item    *model.Item // server's current copy on LWW conflicts
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsConflict reports whether err is a server-signaled version conflict.
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == "conflict"
}

// API is the client's HTTP transport. All mutation calls rely on the
// queue's retry/backoff loop instead of aborting mid-flight, so the timeout
// bounds a single attempt, not the operation.
type API struct {
	BaseURL   string
	Token     string
	Inventory string // optional explicit inventory selector
	HTTP      *http.Client
}

// NewAPI creates a transport for the given server.
func NewAPI(baseURL, token, inventory string) *API {
	return &API{
		BaseURL:   baseURL,
		Token:     token,
		Inventory: inventory,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	if a.Inventory != "" {
		req.Header.Set("X-Inventory", a.Inventory)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string      `json:"error"`
			Code  string      `json:"code"`
			Item  *model.Item `json:"item"`
		}
		json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{
			Status:  resp.StatusCode,
			Code:    payload.Code,
			Message: payload.Error,
			Item:    payload.Item,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity with a short bounded timeout.
func (a *API) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return a.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Login exchanges credentials for a bearer token and stores it on the
// transport.
func (a *API) Login(ctx context.Context, username, password string) error {
	var out struct {
		Token string `json:"token"`
	}
	err := a.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return err
	}
	a.Token = out.Token
	return nil
}

// ScanResponse is the server's batch result.
type ScanResponse struct {
	ServerTime int64               `json:"server_time"`
	Results    []store.ScanOutcome `json:"results"`
}

// SubmitScans submits all pending scan events as one call.
func (a *API) SubmitScans(ctx context.Context, events []store.ScanInput) (*ScanResponse, error) {
	var out ScanResponse
	err := a.do(ctx, http.MethodPost, "/api/scans",
		map[string]any{"events": events}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateItemPayload is the queued item_create payload.
type CreateItemPayload struct {
	LocalID    string `json:"local_id,omitempty"` // optimistic cache key until the server assigns one
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Barcode    string `json:"barcode,omitempty"`
	Serial     string `json:"serial,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
}

// UpdateItemPayload is the queued item_update payload.
type UpdateItemPayload struct {
	ID           string          `json:"id"`
	LastModified int64           `json:"last_modified"`
	Patch        model.ItemPatch `json:"patch"`
}

// CreateItem creates an item and returns the canonical server copy.
func (a *API) CreateItem(ctx context.Context, p CreateItemPayload) (*model.Item, error) {
	var item model.Item
	if err := a.do(ctx, http.MethodPost, "/api/items", p, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem applies a partial update. A stale last_modified yields an
// *APIError with code "conflict" carrying the server's current item.
func (a *API) UpdateItem(ctx context.Context, p UpdateItemPayload) (*model.Item, error) {
	var item model.Item
	err := a.do(ctx, http.MethodPatch, "/api/items/"+p.ID,
		map[string]any{"last_modified": p.LastModified, "patch": p.Patch}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem soft-deletes an item.
func (a *API) DeleteItem(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/items/"+id, nil, nil)
}

// ItemList is the server's list response.
type ItemList struct {
	Items   []model.Item `json:"items"`
	Deleted []string     `json:"deleted"`
}

// ListItems pulls items modified after since, including soft-deleted ones.
func (a *API) ListItems(ctx context.Context, since int64, includeDeleted bool) (*ItemList, error) {
	path := fmt.Sprintf("/api/items?since=%d", since)
	if includeDeleted {
		path += "&include_deleted=true"
	}
	var out ItemList
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSnapshot pulls the full dataset for bootstrap.
func (a *API) GetSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := a.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListCategories pulls all categories.
func (a *API) ListCategories(ctx context.Context) ([]model.Category, error) {
	var cats []model.Category
	if err := a.do(ctx, http.MethodGet, "/api/categories", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// ListLocations pulls all locations.
func (a *API) ListLocations(ctx context.Context) ([]model.Location, error) {
	var locs []model.Location
	if err := a.do(ctx, http.MethodGet, "/api/locations", nil, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}
