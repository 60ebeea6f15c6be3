package pty

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// TmuxSession is one entry from `tmux list-sessions`.
type TmuxSession struct {
	Name     string
	Windows  int
	Attached bool
}

// Available reports whether the tmux binary is on PATH. When it is not,
// local sessions fall back to a bare shell and lose persistence across
// broker restarts.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// SessionName derives the deterministic tmux session name for a broker
// session. The owner and the first 8 characters of the session id keep
// names collision-resistant while staying readable in `tmux ls`.
func SessionName(prefix, owner, sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, sanitize(owner), sanitize(short))
}

// IsBrokerSession reports whether a tmux session name matches the broker's
// naming convention for the given prefix.
func IsBrokerSession(prefix, name string) bool {
	return strings.HasPrefix(name, prefix+"-")
}

// sanitize strips characters tmux treats specially in session names.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ListTmuxSessions enumerates live tmux sessions. A missing tmux server is
// not an error; it means no sessions.
func ListTmuxSessions() ([]TmuxSession, error) {
	out, err := exec.Command("tmux", "list-sessions", "-F",
		"#{session_name}|#{session_windows}|#{session_attached}").Output()
	if err != nil {
		// tmux exits non-zero when no server is running.
		return nil, nil
	}
	return parseTmuxList(string(out)), nil
}

func parseTmuxList(out string) []TmuxSession {
	var sessions []TmuxSession
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		windows, _ := strconv.Atoi(parts[1])
		attached, _ := strconv.Atoi(parts[2])
		sessions = append(sessions, TmuxSession{
			Name:     parts[0],
			Windows:  windows,
			Attached: attached > 0,
		})
	}
	return sessions
}

// KillTmuxSession tears down a named tmux session. Best-effort; the session
// may already be gone.
func KillTmuxSession(name string) error {
	if err := exec.Command("tmux", "kill-session", "-t", name).Run(); err != nil {
		return fmt.Errorf("kill tmux session %s: %w", name, err)
	}
	return nil
}
