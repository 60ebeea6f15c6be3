package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks credentials and issues the bearer token used by both the
// REST surface and the WebSocket auth message.
func Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := database.GetUserByUsername(req.Username)
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := Tokens.Issue(auth.Identity{
		Username: user.Username,
		Role:     user.Role,
		HomeDir:  user.HomeDir,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": user.Username,
		"role":     user.Role,
	})
}

func Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		Tokens.Revoke(strings.TrimPrefix(header, "Bearer "))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": id.Username,
		"role":     id.Role,
	})
}
