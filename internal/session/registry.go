package session

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/termweave/termweave/internal/history"
	"github.com/termweave/termweave/internal/pty"
)

var ErrDuplicateSession = errors.New("session id already exists")

// attachScheme marks a remote target as an attachment to an existing tmux
// session instead of an ssh destination, e.g. "tmux:deploy-window".
const attachScheme = "tmux:"

// Config carries the registry's policy knobs and collaborators.
type Config struct {
	// TmuxPrefix namespaces the broker's tmux session names.
	TmuxPrefix string
	// Shell overrides $SHELL for local sessions.
	Shell string
	// KeepDetachedSessions keeps a session (and its tmux backing) alive
	// when the last viewer detaches, allowing later re-attachment. Off by
	// default: a session with zero viewers is torn down immediately.
	KeepDetachedSessions bool
	// PendingBufferLimit bounds each session's history pending buffer.
	PendingBufferLimit int
	// History receives completed command lines. May be nil.
	History history.Store
	// Spawn starts session processes. Nil selects the real PTY spawner.
	Spawn SpawnFunc
}

// Registry is the single source of truth for session existence. All access
// to the session map goes through its mutex; per-session state has its own
// coarse lock so one session's traffic never blocks another's.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config) *Registry {
	if cfg.TmuxPrefix == "" {
		cfg.TmuxPrefix = "tw"
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(opts pty.SpawnOptions, onOutput func([]byte), onExit func()) (Process, error) {
			return pty.Spawn(opts, onOutput, onExit)
		}
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

type CreateOptions struct {
	// SessionID is the client-supplied id; empty generates one.
	SessionID string
	// RemoteTarget selects an ssh destination, or with the "tmux:" scheme
	// an existing tmux session to attach to. Empty means a local shell.
	RemoteTarget string
	ShareMode    ShareMode
	Cols, Rows   uint16
}

// Create spawns a process and registers a new session. Fails with
// ErrDuplicateSession when the id is taken and *pty.SpawnError when the
// process cannot be started; in either case no registry entry remains.
func (r *Registry) Create(owner string, opts CreateOptions) (*Session, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	mode := opts.ShareMode
	if mode == "" {
		mode = ShareCollaborative
	}
	if mode != ShareCollaborative && mode != ShareViewOnly {
		return nil, fmt.Errorf("invalid share mode %q", mode)
	}

	s := &Session{
		ID:           id,
		Owner:        owner,
		RemoteTarget: opts.RemoteTarget,
		ShareMode:    mode,
		CreatedAt:    time.Now(),
		reg:          r,
		capture:      history.NewCapture(owner, r.cfg.PendingBufferLimit, r.cfg.History),
		clients:      make(map[Client]struct{}),
	}

	// Reserve the id before the (slow) spawn so concurrent creates with
	// the same id fail fast instead of racing.
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	r.sessions[id] = s
	r.mu.Unlock()

	proc, err := r.cfg.Spawn(r.spawnOptions(s, opts), s.handleOutput, s.handleExit)
	if err != nil {
		r.remove(id)
		return nil, err
	}

	s.mu.Lock()
	s.proc = proc
	s.tmuxName = proc.TmuxName()
	s.mu.Unlock()

	log.Printf("[registry] created session %s for %s (mode=%s, target=%q)",
		id, owner, mode, opts.RemoteTarget)
	return s, nil
}

func (r *Registry) spawnOptions(s *Session, opts CreateOptions) pty.SpawnOptions {
	so := pty.SpawnOptions{
		Shell: r.cfg.Shell,
		Cols:  opts.Cols,
		Rows:  opts.Rows,
	}
	switch {
	case strings.HasPrefix(opts.RemoteTarget, attachScheme):
		so.Kind = pty.KindAttachExternal
		so.Target = strings.TrimPrefix(opts.RemoteTarget, attachScheme)
	case opts.RemoteTarget != "":
		so.Kind = pty.KindRemoteShell
		so.Target = opts.RemoteTarget
	default:
		so.Kind = pty.KindLocalShell
		so.TmuxName = pty.SessionName(r.cfg.TmuxPrefix, s.Owner, s.ID)
	}
	return so
}

// Get returns a session by id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Summary is the viewer-facing description of a session. Never carries the
// process handle.
type Summary struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	ShareMode    ShareMode `json:"shareMode"`
	RemoteTarget string    `json:"remoteTarget,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ClientCount  int       `json:"clientCount"`
}

// List returns session summaries, filtered to one owner when owner is
// non-empty, sorted by creation time.
func (r *Registry) List(owner string) []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if owner == "" || s.Owner == owner {
			sessions = append(sessions, s)
		}
	}
	r.mu.Unlock()

	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, Summary{
			ID:           s.ID,
			Owner:        s.Owner,
			ShareMode:    s.ShareMode,
			RemoteTarget: s.RemoteTarget,
			CreatedAt:    s.CreatedAt,
			ClientCount:  s.ClientCount(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Delete kills the session's process, closes every attached viewer with a
// normal-closure code, and removes the entry. Idempotent.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.destroy(true, "session deleted")
	log.Printf("[registry] deleted session %s", id)
}

// remove drops a registry entry without touching the session. Called from
// session teardown paths that have already handled the process.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReconcileExternal kills tmux sessions that match the broker's naming
// convention but have no registry entry. Run at startup (sessions that
// survived a prior crash) and periodically from the cron schedule. Returns
// the number of orphans torn down.
func (r *Registry) ReconcileExternal() int {
	external, err := pty.ListTmuxSessions()
	if err != nil || len(external) == 0 {
		return 0
	}

	r.mu.Lock()
	live := make(map[string]bool, len(r.sessions))
	for _, s := range r.sessions {
		s.mu.Lock()
		if s.tmuxName != "" {
			live[s.tmuxName] = true
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	killed := 0
	for _, ts := range external {
		if !pty.IsBrokerSession(r.cfg.TmuxPrefix, ts.Name) || live[ts.Name] {
			continue
		}
		log.Printf("[registry] reaping orphaned tmux session %s", ts.Name)
		if err := pty.KillTmuxSession(ts.Name); err != nil {
			log.Printf("[registry] %v", err)
			continue
		}
		killed++
	}
	return killed
}

// ShutdownAll kills every live process without waiting for graceful exit
// and clears the registry. Backing tmux sessions are left running; the
// next startup's reconcile pass decides their fate.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.destroy(false, "server shutting down")
	}
	log.Printf("[registry] shutdown: %d sessions killed", len(sessions))
}
