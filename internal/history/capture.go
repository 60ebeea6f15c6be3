// Package history accumulates per-session keystrokes and persists completed
// command lines. Persistence is fire-and-forget: a store failure is logged
// and never interrupts the terminal.
package history

import (
	"log"
	"strings"
	"sync"
)

// Store receives completed command lines.
type Store interface {
	Append(username, command string) error
}

// DefaultBufferLimit bounds the pending buffer under pathological input
// (a process writing without ever sending a line terminator).
const DefaultBufferLimit = 10 * 1024

// Capture holds one session's pending input buffer. Bytes accumulate until
// a CR or LF commits the line; backspace pops the last byte; once the
// ceiling is reached further bytes are dropped silently.
type Capture struct {
	username string
	store    Store
	limit    int

	mu  sync.Mutex
	buf []byte
}

func NewCapture(username string, limit int, store Store) *Capture {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &Capture{username: username, store: store, limit: limit}
}

// Observe feeds routed input bytes into the pending buffer.
func (c *Capture) Observe(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range data {
		switch b {
		case '\r', '\n':
			c.commitLocked()
		case 0x7f, 0x08: // DEL (what terminals send) and BS
			if len(c.buf) > 0 {
				c.buf = c.buf[:len(c.buf)-1]
			}
		default:
			if len(c.buf) < c.limit {
				c.buf = append(c.buf, b)
			}
		}
	}
}

// commitLocked clears the buffer and persists the trimmed line if non-empty.
// Caller holds c.mu.
func (c *Capture) commitLocked() {
	line := strings.TrimSpace(string(c.buf))
	c.buf = c.buf[:0]
	if line == "" || c.store == nil {
		return
	}

	username := c.username
	store := c.store
	go func() {
		if err := store.Append(username, line); err != nil {
			log.Printf("[history] append for %s failed: %v", username, err)
		}
	}()
}

// Pending returns the current buffer contents. Test hook.
func (c *Capture) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}
