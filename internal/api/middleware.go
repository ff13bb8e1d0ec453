package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/matejg/zaloga/internal/auth"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/registry"
)

type contextKey string

const (
	claimsKey      contextKey = "claims"
	inventoryKey   contextKey = "inventory"
	inventoryDBKey contextKey = "inventoryDB"
)

// InventoryHeader selects the target inventory on data-plane calls. The
// resolved id is echoed back in the same response header.
const InventoryHeader = "X-Inventory"

// AuthMiddleware validates JWT from Authorization header and adds claims to context.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid authorization header")
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")
			claims, err := auth.ValidateToken(secret, tokenStr)
			if err != nil {
				jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that checks if the user has at least the given role.
func RequireRole(minimum string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "not authenticated")
				return
			}
			if !model.RoleAtLeast(claims.Role, minimum) {
				jsonError(w, http.StatusForbidden, CodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// InventorySelector resolves each request to exactly one per-inventory
// store: the X-Inventory header if present, else the registry's active
// inventory, else the default. An unknown id fails the whole request.
func InventorySelector(reg *registry.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			selector := r.Header.Get(InventoryHeader)
			id, handle, err := reg.Resolve(r.Context(), selector)
			if err != nil {
				storeError(w, err, "resolve inventory")
				return
			}

			w.Header().Set(InventoryHeader, id)
			ctx := context.WithValue(r.Context(), inventoryKey, id)
			ctx = context.WithValue(ctx, inventoryDBKey, handle)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InventoryDB retrieves the resolved per-inventory database from the context.
func InventoryDB(ctx context.Context) *sql.DB {
	db, _ := ctx.Value(inventoryDBKey).(*sql.DB)
	return db
}

// InventoryID retrieves the resolved inventory id from the context.
func InventoryID(ctx context.Context) string {
	id, _ := ctx.Value(inventoryKey).(string)
	return id
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests with method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// RecoverMiddleware converts panics into internal_error responses without
// leaking internals.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				jsonError(w, http.StatusInternalServerError, CodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
