package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/session"
)

// Wired from main.go during init.
var (
	Registry *session.Registry
	Tokens   *auth.TokenStore
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
