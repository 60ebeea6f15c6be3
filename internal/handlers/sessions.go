package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/termweave/termweave/internal/middleware"
)

// ListMySessions returns summaries of the caller's own sessions.
func ListMySessions(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": Registry.List(id.Username),
	})
}

// ListShareableSessions returns summaries of every live session, for the
// "join a shared session" picker. Summaries never expose process handles.
func ListShareableSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": Registry.List(""),
	})
}

// DeleteSession tears a session down by id. Idempotent: deleting an absent
// id succeeds. Owners may delete their own sessions; admins any.
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	if s := Registry.Get(sessionID); s != nil && s.Owner != id.Username && id.Role != "admin" {
		writeError(w, http.StatusForbidden, "Not your session")
		return
	}

	Registry.Delete(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
