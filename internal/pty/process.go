// Package pty owns the child process behind a terminal session: spawning,
// byte I/O, resize, and exit notification. Local shells are started through
// tmux when available so they survive broker restarts; remote shells run
// the ssh client under a PTY so the user's own ssh config applies.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Kind selects what kind of process backs a session.
type Kind int

const (
	// KindLocalShell starts the user's shell, through tmux when available.
	KindLocalShell Kind = iota
	// KindRemoteShell runs the ssh client against SpawnOptions.Target.
	KindRemoteShell
	// KindAttachExternal attaches to an existing tmux session named by Target.
	KindAttachExternal
)

// DefaultShell is used when $SHELL is unset and no override is configured.
const DefaultShell = "/bin/bash"

type SpawnOptions struct {
	Kind   Kind
	Target string // ssh destination or tmux session name, depending on Kind
	Dir    string
	Shell  string // overrides $SHELL for local sessions
	// TmuxName is the durable tmux session name for local shells. Empty
	// disables tmux even when the binary is present.
	TmuxName string
	Cols     uint16
	Rows     uint16
}

// SpawnError wraps a failure to exec the underlying process. Callers surface
// it as a session-creation failure, never as a crash.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Process is one spawned child with a PTY. Exactly one Process exists per
// session; all mutation goes through Write, Resize, and Kill.
type Process struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	tmuxName string

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	exited bool
	killed bool
}

// Spawn starts the process described by opts and begins pumping output.
// onOutput is invoked from a single goroutine with each chunk read from the
// PTY; onExit is invoked exactly once after the output stream ends. Both
// callbacks must be non-nil.
func Spawn(opts SpawnOptions, onOutput func([]byte), onExit func()) (*Process, error) {
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	cmd, tmuxName := buildCommand(opts)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, &SpawnError{Command: cmd.Path, Err: err}
	}

	p := &Process{
		cmd:      cmd,
		ptmx:     ptmx,
		tmuxName: tmuxName,
		cols:     opts.Cols,
		rows:     opts.Rows,
	}

	go p.pump(onOutput, onExit)
	return p, nil
}

// buildCommand maps the spawn kind to an exec.Cmd. Returns the tmux session
// name when the process runs through tmux.
func buildCommand(opts SpawnOptions) (*exec.Cmd, string) {
	switch opts.Kind {
	case KindRemoteShell:
		return exec.Command("ssh", opts.Target), ""
	case KindAttachExternal:
		return exec.Command("tmux", "attach-session", "-t", opts.Target), opts.Target
	default:
		if opts.TmuxName != "" && Available() {
			// -A attaches when the named session already exists, so a
			// reconnecting client resumes instead of stacking shells.
			return exec.Command("tmux", "new-session", "-A", "-s", opts.TmuxName), opts.TmuxName
		}
		shell := opts.Shell
		if shell == "" {
			shell = os.Getenv("SHELL")
		}
		if shell == "" {
			shell = DefaultShell
		}
		return exec.Command(shell), ""
	}
}

func (p *Process) pump(onOutput func([]byte), onExit func()) {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			onOutput(data)
		}
		if err != nil {
			break
		}
	}

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	p.cmd.Wait()
	onExit()
}

// Write forwards raw bytes to the process stdin. Silently a no-op once the
// process has exited.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.exited || p.killed {
		p.mu.Unlock()
		return 0, nil
	}
	p.mu.Unlock()
	return p.ptmx.Write(data)
}

// Resize propagates terminal geometry. No-op after exit.
func (p *Process) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.killed {
		return nil
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	p.cols, p.rows = cols, rows
	return nil
}

// Size returns the last applied terminal geometry.
func (p *Process) Size() (cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Kill requests termination. Idempotent; safe on an already-dead process.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.ptmx.Close()
}

// TmuxName returns the tmux session name backing this process, or "" for
// bare shells and remote sessions.
func (p *Process) TmuxName() string { return p.tmuxName }
