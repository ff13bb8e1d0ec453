package api

import (
	"database/sql"
	"net/http"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/registry"
)

// NewRouter creates the API router with all endpoints registered.
// registryDB holds users and settings; reg resolves data-plane requests to
// per-inventory stores.
func NewRouter(reg *registry.Registry, registryDB *sql.DB, jwtSecret string) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: registryDB, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: registryDB}
	inventoriesHandler := &InventoriesHandler{Registry: reg}
	itemsHandler := &ItemsHandler{}
	scansHandler := &ScansHandler{}
	barcodesHandler := &BarcodesHandler{}
	taxonomyHandler := &TaxonomyHandler{}
	snapshotHandler := &SnapshotHandler{}

	authMW := AuthMiddleware(jwtSecret)
	invMW := InventorySelector(reg)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireWriter := RequireRole(model.RoleOperator)

	// Reads: any authenticated role, resolved to one inventory.
	read := func(h http.HandlerFunc) http.Handler {
		return authMW(invMW(h))
	}
	// Writes: the role gate rejects the read-only role before resolution.
	write := func(h http.HandlerFunc) http.Handler {
		return authMW(requireWriter(invMW(h)))
	}

	// Public: health check and login.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated, registry-scoped.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Inventories (admin only).
	mux.Handle("GET /api/inventories", authMW(requireAdmin(http.HandlerFunc(inventoriesHandler.List))))
	mux.Handle("POST /api/inventories", authMW(requireAdmin(http.HandlerFunc(inventoriesHandler.Create))))
	mux.Handle("PUT /api/inventories/active", authMW(requireAdmin(http.HandlerFunc(inventoriesHandler.SetActive))))

	// Scans.
	mux.Handle("POST /api/scans", write(scansHandler.Submit))
	mux.Handle("GET /api/scans", read(scansHandler.ListLog))
	mux.Handle("GET /api/resolve/{barcode}", read(scansHandler.Resolve))

	// Items.
	mux.Handle("GET /api/items", read(itemsHandler.List))
	mux.Handle("POST /api/items", write(itemsHandler.Create))
	mux.Handle("GET /api/items/{id}", read(itemsHandler.Get))
	mux.Handle("PATCH /api/items/{id}", write(itemsHandler.Update))
	mux.Handle("DELETE /api/items/{id}", write(itemsHandler.Delete))

	// Item photos.
	mux.Handle("PUT /api/items/{id}/photo", write(itemsHandler.UploadPhoto))
	mux.Handle("GET /api/items/{id}/photo", read(itemsHandler.GetPhoto))

	// Alternate barcodes.
	mux.Handle("GET /api/items/{id}/barcodes", read(barcodesHandler.List))
	mux.Handle("POST /api/items/{id}/barcodes", write(barcodesHandler.Attach))
	mux.Handle("DELETE /api/items/{id}/barcodes/{barcode}", write(barcodesHandler.Detach))

	// Categories and locations.
	mux.Handle("GET /api/categories", read(taxonomyHandler.ListCategories))
	mux.Handle("POST /api/categories", write(taxonomyHandler.CreateCategory))
	mux.Handle("DELETE /api/categories/{id}", write(taxonomyHandler.DeleteCategory))
	mux.Handle("GET /api/locations", read(taxonomyHandler.ListLocations))
	mux.Handle("POST /api/locations", write(taxonomyHandler.CreateLocation))
	mux.Handle("DELETE /api/locations/{id}", write(taxonomyHandler.DeleteLocation))

	// Snapshots.
	mux.Handle("GET /api/snapshot", read(snapshotHandler.Export))
	mux.Handle("POST /api/snapshot", write(snapshotHandler.Import))

	return RecoverMiddleware(mux)
}
