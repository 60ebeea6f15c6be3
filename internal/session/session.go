// Package session is the broker core: it owns the map of live terminal
// sessions, the process behind each one, and the fan-out of process output
// to every attached viewer.
package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/termweave/termweave/internal/history"
	"github.com/termweave/termweave/internal/pty"
)

// ShareMode controls whether non-owner viewers may send input.
type ShareMode string

const (
	ShareCollaborative ShareMode = "collaborative"
	ShareViewOnly      ShareMode = "view-only"
)

var ErrSessionClosed = errors.New("session closed")

// Client is one live viewer transport attached to a session. Implemented by
// the WebSocket connection wrapper; the session tracks clients only for
// broadcast, it never owns them.
type Client interface {
	Username() string
	SendOutput(data []byte) error
	SendExit(message string) error
	SendResize(cols, rows uint16) error
	// CloseNormal closes the transport with a normal-closure code.
	CloseNormal(reason string)
}

// Process is the adapter around one child process. Satisfied by
// *pty.Process; tests substitute fakes through Config.Spawn.
type Process interface {
	Write(data []byte) (int, error)
	Resize(cols, rows uint16) error
	Size() (cols, rows uint16)
	Kill()
	TmuxName() string
}

// SpawnFunc starts a process for a new session.
type SpawnFunc func(opts pty.SpawnOptions, onOutput func([]byte), onExit func()) (Process, error)

// Session is one broker-managed terminal backed by exactly one process.
// ID, Owner, RemoteTarget, ShareMode, and CreatedAt are immutable after
// creation; the attached-client set and lifecycle state are guarded by mu.
type Session struct {
	ID           string
	Owner        string
	RemoteTarget string
	ShareMode    ShareMode
	CreatedAt    time.Time

	reg     *Registry
	capture *history.Capture

	mu       sync.Mutex
	proc     Process
	tmuxName string
	clients  map[Client]struct{}
	closed   bool
}

// Attach adds a viewer. No scrollback is replayed; the viewer sees only
// output produced from this point forward.
func (s *Session) Attach(c Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.clients[c] = struct{}{}
	return nil
}

// Detach removes a viewer. When the last viewer leaves and the registry's
// keep-detached policy is off, the session is torn down immediately.
func (s *Session) Detach(c Client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	empty := len(s.clients) == 0
	closed := s.closed
	s.mu.Unlock()

	if !empty || closed {
		return
	}
	if s.reg.cfg.KeepDetachedSessions {
		log.Printf("[session] %s detached with zero viewers, kept alive", s.ID)
		return
	}
	s.destroy(true, "")
}

// RouteInput forwards viewer keystrokes to the process. Input from a
// non-owner on a view-only session is dropped silently; no error frame is
// sent, so a probing viewer learns nothing about the access policy.
// Concurrent collaborative input interleaves at byte granularity in
// arrival order; shared terminals accept that.
func (s *Session) RouteInput(c Client, data []byte) {
	s.mu.Lock()
	if s.closed || s.proc == nil {
		s.mu.Unlock()
		return
	}
	if s.ShareMode == ShareViewOnly && c.Username() != s.Owner {
		s.mu.Unlock()
		return
	}
	proc := s.proc
	s.mu.Unlock()

	if _, err := proc.Write(data); err != nil {
		log.Printf("[session] %s input write failed: %v", s.ID, err)
		return
	}
	s.capture.Observe(data)
}

// WriteStartup writes bytes straight to the process, bypassing access
// control and history capture. Used for the owner's startup macro.
func (s *Session) WriteStartup(data []byte) {
	s.mu.Lock()
	proc := s.proc
	closed := s.closed
	s.mu.Unlock()
	if closed || proc == nil {
		return
	}
	proc.Write(data)
}

// Resize applies new geometry to the process and notifies every other
// attached viewer; the origin is excluded to avoid an echo loop.
func (s *Session) Resize(origin Client, cols, rows uint16) {
	s.mu.Lock()
	if s.closed || s.proc == nil {
		s.mu.Unlock()
		return
	}
	proc := s.proc
	others := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		if c != origin {
			others = append(others, c)
		}
	}
	s.mu.Unlock()

	if err := proc.Resize(cols, rows); err != nil {
		log.Printf("[session] %s resize failed: %v", s.ID, err)
		return
	}
	for _, c := range others {
		c.SendResize(cols, rows)
	}
}

// Size returns the current terminal geometry.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return 0, 0
	}
	return proc.Size()
}

// ClientCount returns the number of attached viewers.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// handleOutput broadcasts one process output chunk to every attached
// viewer. The process pump calls this from a single goroutine and the
// client set is walked under the session lock, so all viewers observe
// output in the order the process produced it. A send failure to one
// viewer never blocks delivery to the others.
func (s *Session) handleOutput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.SendOutput(data); err != nil {
			log.Printf("[session] %s output to %s failed: %v", s.ID, c.Username(), err)
		}
	}
}

// handleExit runs exactly once when the process output stream ends. Viewers
// get an exit frame before their transports are closed.
func (s *Session) handleExit() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[Client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		c.SendExit("Session ended")
		c.CloseNormal("session ended")
	}
	s.reg.remove(s.ID)
	log.Printf("[session] %s process exited (%d viewers notified)", s.ID, len(clients))
}

// destroy kills the process and closes any remaining viewers. Idempotent.
// killTmux additionally tears down the backing tmux session, used when the
// destruction is a policy decision rather than a natural process exit.
func (s *Session) destroy(killTmux bool, closeReason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	proc := s.proc
	tmuxName := s.tmuxName
	clients := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[Client]struct{})
	s.mu.Unlock()

	if proc != nil {
		proc.Kill()
	}
	if killTmux && tmuxName != "" {
		if err := pty.KillTmuxSession(tmuxName); err != nil {
			log.Printf("[session] %s: %v", s.ID, err)
		}
	}
	for _, c := range clients {
		c.CloseNormal(closeReason)
	}
	s.reg.remove(s.ID)
}
