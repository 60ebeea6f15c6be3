// Package ws implements the per-connection protocol state machine: a
// connection authenticates once, binds to exactly one session, and then
// exchanges input/output/resize frames until the transport closes.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/session"
)

// Geometry and input bounds, applied before anything reaches the process.
const (
	maxResizeCols = 1000
	maxResizeRows = 1000
	maxInputSize  = 64 * 1024
)

// inputRateLimit is the sustained messages-per-second budget per
// connection; inputRateBurst allows short bursts such as paste operations.
const (
	inputRateLimit = 200
	inputRateBurst = 200
)

// Verifier checks bearer tokens. Satisfied by *auth.TokenStore.
type Verifier interface {
	Verify(token string) (auth.Identity, bool)
}

// MacroSource supplies the owner's default startup commands for freshly
// created sessions. Satisfied by database.Store.
type MacroSource interface {
	DefaultStartupCommands(username string) ([]string, error)
}

// Handler serves the /ws endpoint.
type Handler struct {
	Registry *session.Registry
	Verifier Verifier
	// Macros may be nil; then no startup commands run.
	Macros MacroSource

	// HeartbeatInterval is how often the server pings; a connection silent
	// for HeartbeatMaxMissed intervals is presumed dead and force-closed.
	HeartbeatInterval  time.Duration
	HeartbeatMaxMissed int
	// ResizeDebounce coalesces rapid resize frames to the last value.
	ResizeDebounce time.Duration
}

func (h *Handler) heartbeatInterval() time.Duration {
	if h.HeartbeatInterval > 0 {
		return h.HeartbeatInterval
	}
	return 30 * time.Second
}

func (h *Handler) heartbeatMaxMissed() int {
	if h.HeartbeatMaxMissed > 0 {
		return h.HeartbeatMaxMissed
	}
	return 3
}

// conn is one live viewer transport. It implements session.Client; the
// read loop is the only goroutine that mutates its fields, and username is
// published to broadcast goroutines via the session lock on attach.
type conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	username string
	sess     *session.Session
	resize   *debouncer

	lastSeen atomic.Int64 // unix nanos of the last inbound frame
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

func (c *conn) sendError(message string) {
	c.send(Message{Type: "error", Message: message})
}

// session.Client implementation

func (c *conn) Username() string { return c.username }

func (c *conn) SendOutput(data []byte) error {
	return c.send(Message{Type: "output", Data: string(data)})
}

func (c *conn) SendExit(message string) error {
	return c.send(Message{Type: "exit", Message: message})
}

func (c *conn) SendResize(cols, rows uint16) error {
	return c.send(Message{Type: "resize", Cols: cols, Rows: rows})
}

func (c *conn) CloseNormal(reason string) {
	c.ws.Close(websocket.StatusNormalClosure, reason)
	c.cancel()
}

// ServeWS upgrades the request and runs the connection until the transport
// closes. Transport close is the only path from connection lifecycle to
// session teardown: the deferred detach below.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[ws] accept failed: %v", err)
		return
	}
	defer wsConn.CloseNow()

	wsConn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: wsConn, ctx: ctx, cancel: cancel}
	c.touch()
	c.resize = newDebouncer(h.ResizeDebounce, func(cols, rows uint16) {
		if s := c.sess; s != nil {
			s.Resize(c, cols, rows)
		}
	})
	defer c.resize.stop()

	c.send(Message{Type: "connected", Message: "Welcome to termweave"})

	go h.heartbeat(c)

	h.readLoop(c)

	if c.sess != nil {
		c.sess.Detach(c)
		log.Printf("[ws] %s detached from %s", c.username, c.sess.ID)
	}
	wsConn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) readLoop(c *conn) {
	limiter := newTokenBucket(inputRateBurst, inputRateLimit)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		c.touch()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(errInvalidFormat)
			continue
		}

		switch msg.Type {
		case "ping":
			c.send(Message{Type: "pong", Timestamp: msg.Timestamp})

		case "pong":
			// Heartbeat reply; touch above already recorded liveness.

		case "auth":
			h.handleAuth(c, msg)

		case "input":
			if c.sess == nil {
				c.sendError(errNotAuthenticated)
				continue
			}
			if len(msg.Data) > maxInputSize || !limiter.allow() {
				continue
			}
			c.sess.RouteInput(c, []byte(msg.Data))

		case "resize":
			if c.sess == nil || msg.Cols == 0 || msg.Rows == 0 {
				continue
			}
			cols, rows := msg.Cols, msg.Rows
			if cols > maxResizeCols {
				cols = maxResizeCols
			}
			if rows > maxResizeRows {
				rows = maxResizeRows
			}
			c.resize.update(cols, rows)

		case "list-sessions":
			if c.sess == nil {
				c.sendError(errNotAuthenticated)
				continue
			}
			c.send(Message{Type: "sessions-list", Sessions: h.Registry.List("")})

		default:
			c.sendError(errUnknownType)
		}
	}
}

// handleAuth verifies the token and binds the connection to a session:
// join an existing shared session, resume by session id, or create. Every
// failure leaves the connection open and unauthenticated so the client may
// retry.
func (h *Handler) handleAuth(c *conn, msg Message) {
	if c.sess != nil {
		c.sendError(errAlreadyAuthed)
		return
	}
	if msg.Token == "" {
		c.sendError(errNoToken)
		return
	}
	identity, ok := h.Verifier.Verify(msg.Token)
	if !ok {
		c.sendError(errInvalidToken)
		return
	}

	// Publish the username before attach: broadcast goroutines read it
	// through the session lock.
	c.username = identity.Username

	var (
		sess  *session.Session
		fresh bool
	)

	if msg.JoinSessionID != "" {
		sess = h.Registry.Get(msg.JoinSessionID)
		if sess == nil {
			c.sendError(errSessionNotFound)
			return
		}
	} else {
		if msg.SessionID != "" {
			sess = h.Registry.Get(msg.SessionID)
		}
		if sess == nil {
			created, err := h.Registry.Create(identity.Username, session.CreateOptions{
				SessionID:    msg.SessionID,
				RemoteTarget: msg.RemoteTarget,
				ShareMode:    session.ShareMode(msg.ShareMode),
				Cols:         msg.Cols,
				Rows:         msg.Rows,
			})
			if errors.Is(err, session.ErrDuplicateSession) {
				// Lost a create race; the session exists now.
				created = h.Registry.Get(msg.SessionID)
			} else if err != nil {
				log.Printf("[ws] session create for %s failed: %v", identity.Username, err)
				c.sendError(errSpawnFailed)
				return
			} else {
				fresh = true
			}
			sess = created
		}
	}

	if sess == nil {
		c.sendError(errSessionNotFound)
		return
	}
	if err := sess.Attach(c); err != nil {
		c.sendError(errSessionNotFound)
		return
	}
	c.sess = sess

	if fresh && sess.RemoteTarget == "" {
		go h.runStartupCommands(sess)
	}

	c.send(Message{Type: "authenticated", SessionID: sess.ID})
	log.Printf("[ws] %s authenticated on session %s (fresh=%v)", c.username, sess.ID, fresh)
}

// runStartupCommands feeds the owner's default macro into a fresh session.
// Fire-and-forget: lookup failures are logged and the terminal is never
// interrupted.
func (h *Handler) runStartupCommands(sess *session.Session) {
	if h.Macros == nil {
		return
	}
	commands, err := h.Macros.DefaultStartupCommands(sess.Owner)
	if err != nil {
		log.Printf("[ws] startup commands for %s: %v", sess.Owner, err)
		return
	}
	for _, cmd := range commands {
		sess.WriteStartup([]byte(cmd + "\n"))
	}
}

// heartbeat pings the client every interval and force-closes the transport
// after maxMissed silent intervals. This is the cancellation path for
// half-open connections.
func (h *Handler) heartbeat(c *conn) {
	interval := h.heartbeatInterval()
	deadline := time.Duration(h.heartbeatMaxMissed()) * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, c.lastSeen.Load()))
			if silent > deadline {
				log.Printf("[ws] connection silent for %s, closing", silent.Round(time.Second))
				c.ws.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				c.cancel()
				return
			}
			c.send(Message{Type: "ping", Timestamp: time.Now().UnixMilli()})
		}
	}
}

// tokenBucket rate-limits inbound input frames.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(maxTokens),
		maxTokens:  float64(maxTokens),
		refillRate: float64(refillRate),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	tb.lastRefill = now
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
