package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/middleware"
	"github.com/termweave/termweave/internal/pty"
	"github.com/termweave/termweave/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type nullProc struct{}

func (nullProc) Write(data []byte) (int, error) { return len(data), nil }
func (nullProc) Resize(cols, rows uint16) error { return nil }
func (nullProc) Size() (uint16, uint16)         { return 80, 24 }
func (nullProc) Kill()                          {}
func (nullProc) TmuxName() string               { return "" }

func setupRegistry(t *testing.T) *session.Registry {
	t.Helper()
	reg := session.NewRegistry(session.Config{
		TmuxPrefix: "twtest",
		Spawn: func(opts pty.SpawnOptions, onOutput func([]byte), onExit func()) (session.Process, error) {
			return nullProc{}, nil
		},
	})
	prev := Registry
	Registry = reg
	t.Cleanup(func() { Registry = prev })
	return reg
}

func setupDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.HistoryEntry{}, &database.Macro{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		database.DB = prev
	})
}

func setupTokens(t *testing.T) *auth.TokenStore {
	t.Helper()
	tokens := auth.NewTokenStore(time.Hour)
	prev := Tokens
	Tokens = tokens
	t.Cleanup(func() { Tokens = prev })
	return tokens
}

func asUser(username, role string) auth.Identity {
	return auth.Identity{Username: username, Role: role}
}

func doRequest(t *testing.T, handler http.HandlerFunc, method, target string, body []byte, id *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if id != nil {
		req = middleware.WithIdentityForTest(req, *id)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	reg := setupRegistry(t)
	reg.Create("alice", session.CreateOptions{SessionID: "s1"})

	w := doRequest(t, HealthCheck, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Sessions != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLogin(t *testing.T) {
	setupDB(t)
	tokens := setupTokens(t)

	hash, _ := auth.HashPassword("hunter2")
	database.CreateUser(&database.User{Username: "alice", PasswordHash: hash, Role: "admin", HomeDir: "/home/alice"})

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter2"})
	w := doRequest(t, Login, "POST", "/api/v1/auth/login", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["username"] != "alice" || resp["role"] != "admin" || resp["token"] == "" {
		t.Errorf("resp = %v", resp)
	}

	// The issued token verifies and carries the home directory through.
	id, ok := tokens.Verify(resp["token"])
	if !ok || id.HomeDir != "/home/alice" {
		t.Errorf("token identity = %+v ok=%v", id, ok)
	}
}

func TestLoginRejections(t *testing.T) {
	setupDB(t)
	setupTokens(t)

	hash, _ := auth.HashPassword("hunter2")
	database.CreateUser(&database.User{Username: "alice", PasswordHash: hash})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"x"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"alice"}`, http.StatusBadRequest},
		{"bad json", `{broken`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, Login, "POST", "/api/v1/auth/login", []byte(tt.body), nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	tokens := setupTokens(t)
	token, _ := tokens.Issue(asUser("alice", "user"))

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := tokens.Verify(token); ok {
		t.Error("token still valid after logout")
	}
}

func TestGetCurrentUser(t *testing.T) {
	id := asUser("alice", "user")
	w := doRequest(t, GetCurrentUser, "GET", "/api/v1/auth/me", nil, &id)

	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["username"] != "alice" || resp["role"] != "user" {
		t.Errorf("resp = %v", resp)
	}

	// No identity on the context: unauthorized.
	w = doRequest(t, GetCurrentUser, "GET", "/api/v1/auth/me", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without identity = %d", w.Code)
	}
}

func TestListSessionsScoping(t *testing.T) {
	reg := setupRegistry(t)
	reg.Create("alice", session.CreateOptions{SessionID: "a1"})
	reg.Create("bob", session.CreateOptions{SessionID: "b1"})

	id := asUser("alice", "user")
	w := doRequest(t, ListMySessions, "GET", "/api/v1/sessions", nil, &id)
	var resp struct {
		Sessions []session.Summary `json:"sessions"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != "a1" {
		t.Errorf("my sessions = %+v", resp.Sessions)
	}

	w = doRequest(t, ListShareableSessions, "GET", "/api/v1/sessions/shareable", nil, &id)
	decodeBody(t, w, &resp)
	if len(resp.Sessions) != 2 {
		t.Errorf("shareable sessions = %+v", resp.Sessions)
	}
}

// deleteVia routes through chi so URL parameters resolve.
func deleteVia(t *testing.T, target string, id auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Delete("/api/v1/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		DeleteSession(w, middleware.WithIdentityForTest(req, id))
	})
	req := httptest.NewRequest("DELETE", target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeleteSessionOwnership(t *testing.T) {
	reg := setupRegistry(t)
	reg.Create("alice", session.CreateOptions{SessionID: "a1"})
	reg.Create("alice", session.CreateOptions{SessionID: "a2"})

	// A non-owner may not delete.
	w := deleteVia(t, "/api/v1/sessions/a1", asUser("bob", "user"))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner delete status = %d", w.Code)
	}
	if reg.Get("a1") == nil {
		t.Fatal("session deleted by non-owner")
	}

	// The owner may.
	w = deleteVia(t, "/api/v1/sessions/a1", asUser("alice", "user"))
	if w.Code != http.StatusOK || reg.Get("a1") != nil {
		t.Errorf("owner delete: status %d, session %v", w.Code, reg.Get("a1"))
	}

	// An admin may delete anyone's.
	w = deleteVia(t, "/api/v1/sessions/a2", asUser("root", "admin"))
	if w.Code != http.StatusOK || reg.Get("a2") != nil {
		t.Errorf("admin delete: status %d", w.Code)
	}

	// Deleting an absent session succeeds.
	w = deleteVia(t, "/api/v1/sessions/gone", asUser("alice", "user"))
	if w.Code != http.StatusOK {
		t.Errorf("absent delete status = %d", w.Code)
	}
}

func TestGetHistoryFiltered(t *testing.T) {
	setupDB(t)
	database.AppendHistory("alice", "git status")
	database.AppendHistory("alice", "ls")
	database.AppendHistory("bob", "git log")

	id := asUser("alice", "user")
	w := doRequest(t, GetHistory, "GET", "/api/v1/history?q=git", nil, &id)
	var commands []string
	decodeBody(t, w, &commands)
	if len(commands) != 1 || commands[0] != "git status" {
		t.Errorf("history = %v", commands)
	}

	// Empty history serializes as [], not null.
	carol := asUser("carol", "user")
	w = doRequest(t, GetHistory, "GET", "/api/v1/history", nil, &carol)
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("empty history body = %q", body)
	}
}

func TestMacroEndpoints(t *testing.T) {
	setupDB(t)
	id := asUser("alice", "user")

	body, _ := json.Marshal(macroRequest{Name: "setup", Commands: []string{"export FOO=1"}, IsDefault: true})
	w := doRequest(t, SaveMacro, "POST", "/api/v1/macros", body, &id)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d body %s", w.Code, w.Body.String())
	}

	w = doRequest(t, ListMacros, "GET", "/api/v1/macros", nil, &id)
	var macros []macroResponse
	decodeBody(t, w, &macros)
	if len(macros) != 1 || macros[0].Name != "setup" || !macros[0].IsDefault {
		t.Errorf("macros = %+v", macros)
	}

	// Invalid payloads are rejected.
	w = doRequest(t, SaveMacro, "POST", "/api/v1/macros", []byte(`{"name":""}`), &id)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid save status = %d", w.Code)
	}

	// Delete via router for the URL parameter.
	r := chi.NewRouter()
	r.Delete("/api/v1/macros/{name}", func(w http.ResponseWriter, req *http.Request) {
		DeleteMacro(w, middleware.WithIdentityForTest(req, id))
	})
	req := httptest.NewRequest("DELETE", "/api/v1/macros/setup", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest("DELETE", "/api/v1/macros/setup", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
