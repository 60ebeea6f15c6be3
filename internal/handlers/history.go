package handlers

import (
	"net/http"

	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/middleware"
)

// GetHistory returns the caller's recent commands, newest first, optionally
// filtered by the q query parameter.
func GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	commands, err := database.SearchHistory(id.Username, r.URL.Query().Get("q"), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	if commands == nil {
		commands = []string{}
	}
	writeJSON(w, http.StatusOK, commands)
}
