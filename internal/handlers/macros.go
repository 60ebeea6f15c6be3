package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/middleware"
	"gorm.io/gorm"
)

type macroResponse struct {
	Name      string   `json:"name"`
	Commands  []string `json:"commands"`
	IsDefault bool     `json:"isDefault"`
}

type macroRequest struct {
	Name      string   `json:"name"`
	Commands  []string `json:"commands"`
	IsDefault bool     `json:"isDefault"`
}

func ListMacros(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	macros, err := database.ListMacros(id.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read macros")
		return
	}

	resp := make([]macroResponse, 0, len(macros))
	for _, m := range macros {
		commands, err := m.MacroCommands()
		if err != nil {
			continue
		}
		resp = append(resp, macroResponse{Name: m.Name, Commands: commands, IsDefault: m.IsDefault})
	}
	writeJSON(w, http.StatusOK, resp)
}

func SaveMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req macroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Commands == nil {
		writeError(w, http.StatusBadRequest, "Invalid macro data")
		return
	}

	if err := database.SaveMacro(id.Username, req.Name, req.Commands, req.IsDefault); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save macro")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func DeleteMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	name := chi.URLParam(r, "name")
	if err := database.DeleteMacro(id.Username, name); err != nil {
		if err == gorm.ErrRecordNotFound {
			writeError(w, http.StatusNotFound, "Macro not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete macro")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
