package handlers

import "net/http"

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if Registry != nil {
		sessions = Registry.Count()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": sessions,
	})
}
