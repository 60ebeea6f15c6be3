package ws

import "github.com/termweave/termweave/internal/session"

// Message is the JSON frame exchanged over the WebSocket. Fields present
// depend on Type.
//
// Client→server: auth, input, resize, ping, list-sessions.
// Server→client: connected, authenticated, output, error, exit, pong,
// sessions-list, ping (heartbeat; clients answer with pong).
type Message struct {
	Type string `json:"type"`

	// auth
	Token         string `json:"token,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	JoinSessionID string `json:"joinSessionId,omitempty"`
	RemoteTarget  string `json:"remoteTarget,omitempty"`
	ShareMode     string `json:"shareMode,omitempty"`

	// input / output
	Data string `json:"data,omitempty"`

	// resize
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	// error / exit / connected
	Message string `json:"message,omitempty"`

	// sessions-list
	Sessions []session.Summary `json:"sessions,omitempty"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`
}

const (
	errNotAuthenticated = "Not authenticated"
	errAlreadyAuthed    = "Already authenticated"
	errInvalidFormat    = "Invalid message format"
	errUnknownType      = "Unknown message type"
	errSessionNotFound  = "Session not found"
	errNoToken          = "No token provided"
	errInvalidToken     = "Invalid token"
	errSpawnFailed      = "Failed to start session"
)
