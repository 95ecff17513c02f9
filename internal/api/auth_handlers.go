package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/canteen-fulfillment/internal/auth"
)

// StaffEntry is one provisioned staff account. Station staff carry the
// station their tokens are bound to.
type StaffEntry struct {
	PasswordHash string
	Role         string
	StationID    string
}

// AuthHandlers issues tokens for counter terminals and kiosks
type AuthHandlers struct {
	staff      map[string]StaffEntry
	jwtService *auth.JWTService
}

func NewAuthHandlers(staff map[string]StaffEntry, jwtService *auth.JWTService) *AuthHandlers {
	return &AuthHandlers{staff: staff, jwtService: jwtService}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	StaffID  string `json:"staff_id"`
	Password string `json:"password"`
}

// TokenResponse represents the issued token
type TokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	StationID string    `json:"station_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates a staff member and issues an access token
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, ok := h.staff[req.StaffID]
	if !ok || !auth.CheckPassword(req.Password, entry.PasswordHash) {
		http.Error(w, "Invalid staff ID or password", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtService.GenerateToken(req.StaffID, entry.Role, entry.StationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		Role:      entry.Role,
		StationID: entry.StationID,
		ExpiresAt: expiresAt,
	})
}

// Logout clears the access token cookie
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
