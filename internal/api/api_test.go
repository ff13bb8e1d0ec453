package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/matejg/zaloga/internal/auth"
	"github.com/matejg/zaloga/internal/db"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/registry"
	"github.com/matejg/zaloga/internal/store"
)

const testJWTSecret = "test-secret"

func setupTestServer(t *testing.T) (*httptest.Server, *registry.Registry, string) {
	t.Helper()
	registryDB := db.NewTestRegistry(t)
	reg := registry.New(registryDB, t.TempDir())
	t.Cleanup(func() { reg.Close() })

	ctx := context.Background()
	if err := reg.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	store.CreateUser(ctx, registryDB, "admin", string(hash), model.RoleAdmin, "")

	server := httptest.NewServer(NewRouter(reg, registryDB, testJWTSecret))
	t.Cleanup(server.Close)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "password"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}

	return server, reg, token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func doJSON(t *testing.T, req *http.Request, wantStatus int, out any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d", req.Method, req.URL.Path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
}

func createTestItem(t *testing.T, server *httptest.Server, token string, payload map[string]any) model.Item {
	t.Helper()
	req, _ := authRequest("POST", server.URL+"/api/items", token, payload)
	var item model.Item
	doJSON(t, req, http.StatusCreated, &item)
	return item
}

func TestHealthEndpointIsPublic(t *testing.T) {
	server, _, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	server, _, _ := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _, _ := setupTestServer(t)

	resp, _ := http.Get(server.URL + "/api/items")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestViewerRoleIsReadOnly(t *testing.T) {
	server, _, _ := setupTestServer(t)

	viewerToken, _ := auth.GenerateToken(testJWTSecret, 2, "viewer1", model.RoleViewer, "")

	// Reads pass.
	req, _ := authRequest("GET", server.URL+"/api/items", viewerToken, nil)
	doJSON(t, req, http.StatusOK, nil)

	// Writes are rejected before touching any store.
	req, _ = authRequest("POST", server.URL+"/api/scans", viewerToken, map[string]any{
		"events": []store.ScanInput{{EventID: "e1", Barcode: "B", Delta: 1}},
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for viewer scan, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = authRequest("GET", server.URL+"/api/users", viewerToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for viewer accessing users, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestScanSubmissionIdempotent(t *testing.T) {
	server, _, token := setupTestServer(t)

	createTestItem(t, server, token, map[string]any{"name": "AA Battery", "quantity": 2, "barcode": "BAT-001"})

	submit := func() scanBatchResponse {
		req, _ := authRequest("POST", server.URL+"/api/scans", token, map[string]any{
			"events": []store.ScanInput{{EventID: "e1", Barcode: "BAT-001", Delta: 3}},
		})
		var out scanBatchResponse
		doJSON(t, req, http.StatusOK, &out)
		return out
	}

	first := submit()
	if len(first.Results) != 1 || first.Results[0].Status != model.ScanApplied {
		t.Fatalf("unexpected first outcome: %+v", first.Results)
	}
	if first.Results[0].Item.Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", first.Results[0].Item.Quantity)
	}

	// A lost-ACK retransmission of the same batch must not reapply.
	second := submit()
	if second.Results[0].Status != model.ScanDuplicate {
		t.Fatalf("expected duplicate, got %q", second.Results[0].Status)
	}
	if second.Results[0].Item.Quantity != 5 {
		t.Errorf("retransmission changed quantity to %d", second.Results[0].Item.Quantity)
	}
	if second.ServerTime == 0 {
		t.Error("expected server_time in batch response")
	}
}

func TestScanBatchPerEventStatuses(t *testing.T) {
	server, _, token := setupTestServer(t)

	createTestItem(t, server, token, map[string]any{"name": "AA Battery", "quantity": 2, "barcode": "BAT-001"})

	// Mixed outcomes still answer HTTP 200: per-event problems are data,
	// not transport errors.
	req, _ := authRequest("POST", server.URL+"/api/scans", token, map[string]any{
		"events": []store.ScanInput{
			{EventID: "e1", Barcode: "BAT-001", Delta: 1},
			{EventID: "e2", Barcode: "MISSING", Delta: 1},
			{EventID: "e3", Barcode: "BAT-001", Delta: 0},
		},
	})
	var out scanBatchResponse
	doJSON(t, req, http.StatusOK, &out)

	want := []string{model.ScanApplied, model.ScanNotFound, model.ScanError}
	for i, status := range want {
		if out.Results[i].Status != status {
			t.Errorf("event %d: expected %q, got %q", i, status, out.Results[i].Status)
		}
	}
}

func TestUpdateConflictCarriesServerCopy(t *testing.T) {
	server, _, token := setupTestServer(t)

	item := createTestItem(t, server, token, map[string]any{"name": "Mouse", "quantity": 1})

	// First edit wins.
	req, _ := authRequest("PATCH", server.URL+"/api/items/"+item.ID, token, map[string]any{
		"last_modified": item.LastModified,
		"patch":         map[string]any{"quantity": 4},
	})
	doJSON(t, req, http.StatusOK, nil)

	// Second edit asserts the stale timestamp.
	req, _ = authRequest("PATCH", server.URL+"/api/items/"+item.ID, token, map[string]any{
		"last_modified": item.LastModified,
		"patch":         map[string]any{"name": "Wireless Mouse"},
	})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	var conflict struct {
		Code string     `json:"code"`
		Item model.Item `json:"item"`
	}
	json.NewDecoder(resp.Body).Decode(&conflict)
	if conflict.Code != CodeConflict {
		t.Errorf("expected conflict code, got %q", conflict.Code)
	}
	if conflict.Item.Quantity != 4 {
		t.Errorf("expected server's current copy in payload, got %+v", conflict.Item)
	}
}

func TestInventoryHeaderSelectsAndEchoes(t *testing.T) {
	server, _, token := setupTestServer(t)

	var second model.Inventory
	req, _ := authRequest("POST", server.URL+"/api/inventories", token, map[string]string{"name": "second"})
	doJSON(t, req, http.StatusCreated, &second)

	// Write lands in the default (active) inventory.
	createTestItem(t, server, token, map[string]any{"name": "Only In Default"})

	// The second inventory sees none of it.
	req, _ = authRequest("GET", server.URL+"/api/items", token, nil)
	req.Header.Set(InventoryHeader, second.ID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get(InventoryHeader); got != second.ID {
		t.Errorf("expected resolved inventory echoed, got %q", got)
	}

	var list itemListResponse
	json.NewDecoder(resp.Body).Decode(&list)
	if len(list.Items) != 0 {
		t.Errorf("expected empty second inventory, got %d items", len(list.Items))
	}
}

func TestUnknownInventoryFailsWhole(t *testing.T) {
	server, _, token := setupTestServer(t)

	req, _ := authRequest("GET", server.URL+"/api/items", token, nil)
	req.Header.Set(InventoryHeader, "no-such-inventory")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != CodeInventoryNotFound {
		t.Errorf("expected inventory_not_found, got %q", body["code"])
	}
}

func TestResolveEndpoint(t *testing.T) {
	server, _, token := setupTestServer(t)

	item := createTestItem(t, server, token, map[string]any{"name": "Laptop", "barcode": "LAP-001"})

	var resolved resolveResponse
	req, _ := authRequest("GET", server.URL+"/api/resolve/LAP-001", token, nil)
	doJSON(t, req, http.StatusOK, &resolved)
	if resolved.Action != "found" || resolved.Item.ID != item.ID {
		t.Errorf("unexpected resolution: %+v", resolved)
	}

	req, _ = authRequest("GET", server.URL+"/api/resolve/MISSING", token, nil)
	doJSON(t, req, http.StatusOK, &resolved)
	if resolved.Action != "not_found" {
		t.Errorf("expected not_found, got %q", resolved.Action)
	}
}

func TestSnapshotEndpointsRoundTrip(t *testing.T) {
	server, _, token := setupTestServer(t)

	item := createTestItem(t, server, token, map[string]any{"name": "Laptop", "quantity": 2})

	var snap model.Snapshot
	req, _ := authRequest("GET", server.URL+"/api/snapshot", token, nil)
	doJSON(t, req, http.StatusOK, &snap)
	if len(snap.Items) != 1 || snap.Items[0].ID != item.ID {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// Re-importing the identical snapshot is a no-op: everything skips on
	// the LWW tie.
	var stats store.ImportStats
	req, _ = authRequest("POST", server.URL+"/api/snapshot", token, snap)
	doJSON(t, req, http.StatusOK, &stats)
	if stats.ItemsSkipped != 1 || stats.ItemsInserted != 0 {
		t.Errorf("unexpected import stats: %+v", stats)
	}
}
