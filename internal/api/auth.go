package api

import (
	"database/sql"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/matejg/zaloga/internal/auth"
	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// AuthHandler handles login and password endpoints against the registry
// database.
type AuthHandler struct {
	DB        *sql.DB
	JWTSecret string
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	user, err := store.GetUserByUsername(r.Context(), h.DB, req.Username)
	if err != nil {
		storeError(w, err, "log in")
		return
	}
	if user == nil {
		jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, user.ID, user.Username, user.Role, user.DeviceID)
	if err != nil {
		storeError(w, err, "log in")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"token": token, "role": user.Role})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}
	if err := model.ValidatePassword(req.NewPassword); err != nil {
		jsonError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		storeError(w, err, "change password")
		return
	}
	if user == nil {
		jsonError(w, http.StatusUnauthorized, CodeUnauthorized, "user no longer exists")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		jsonError(w, http.StatusForbidden, CodeForbidden, "old password incorrect")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		storeError(w, err, "change password")
		return
	}

	if err := store.UpdateUserPassword(r.Context(), h.DB, user.ID, string(hash)); err != nil {
		storeError(w, err, "change password")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "password changed"})
}
