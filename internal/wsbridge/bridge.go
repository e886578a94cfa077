package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adityalohuni/dashport/internal/protocol"
)

var (
	ErrNoActiveSession = errors.New("no active browser session")
	ErrSessionClosed   = errors.New("browser session closed")
)

// Bridge manages extension websocket sessions and routes commands to them.
// Only one session is active at a time; commands without a session id go
// there.
type Bridge struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	activeID  string
	pending   map[string]pendingCall
	upgrader  websocket.Upgrader
	writeWait time.Duration
	log       *slog.Logger
}

type pendingCall struct {
	session string
	ch      chan protocol.Response
}

type Options struct {
	CheckOrigin     func(*http.Request) bool
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	Logger          *slog.Logger
}

// Session is a connected browser extension.
type Session struct {
	ID          string
	Conn        *websocket.Conn
	mu          sync.Mutex
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
	LastSeen    time.Time
}

func NewBridge(opts Options) *Bridge {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	if up.ReadBufferSize == 0 {
		up.ReadBufferSize = 4096
	}
	if up.WriteBufferSize == 0 {
		up.WriteBufferSize = 4096
	}
	if opts.WriteWait == 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		sessions:  make(map[string]*Session),
		pending:   make(map[string]pendingCall),
		upgrader:  up,
		writeWait: opts.WriteWait,
		log:       opts.Logger,
	}
}

func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	now := time.Now()
	session := &Session{
		ID:          uuid.NewString(),
		Conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ConnectedAt: now,
		LastSeen:    now,
	}

	b.mu.Lock()
	b.sessions[session.ID] = session
	b.activeID = session.ID
	b.mu.Unlock()

	b.log.Info("browser connected", "session", session.ID, "remote", session.RemoteAddr)
	b.readLoop(session)
	b.drop(session.ID)
	b.log.Info("browser disconnected", "session", session.ID)
}

func (b *Bridge) readLoop(session *Session) {
	for {
		_, message, err := session.Conn.ReadMessage()
		if err != nil {
			return
		}
		session.mu.Lock()
		session.LastSeen = time.Now()
		session.mu.Unlock()

		var resp protocol.Response
		if err := json.Unmarshal(message, &resp); err != nil {
			b.log.Warn("ws invalid message", "session", session.ID, "error", err)
			continue
		}
		if resp.ID == "" {
			continue
		}
		b.log.Debug("ws response", "session", session.ID, "id", resp.ID, "ok", resp.OK)
		b.deliver(resp)
	}
}

func (b *Bridge) deliver(resp protocol.Response) {
	b.mu.Lock()
	call, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()
	if ok {
		call.ch <- resp
	}
}

// drop forgets a session and fails the commands still waiting on it.
func (b *Bridge) drop(id string) {
	b.mu.Lock()
	session := b.sessions[id]
	delete(b.sessions, id)
	if b.activeID == id {
		b.activeID = ""
		for sid := range b.sessions {
			b.activeID = sid
			break
		}
	}
	var orphaned []pendingCall
	for cid, call := range b.pending {
		if call.session == id {
			orphaned = append(orphaned, call)
			delete(b.pending, cid)
		}
	}
	b.mu.Unlock()

	for _, call := range orphaned {
		call.ch <- protocol.Response{OK: false, Error: ErrSessionClosed.Error(), ErrorCode: "session_closed"}
	}
	if session != nil {
		_ = session.Conn.Close()
	}
}

// DisconnectSession closes a session's connection. It reports false when
// the session is unknown.
func (b *Bridge) DisconnectSession(id string) bool {
	b.mu.RLock()
	session := b.sessions[id]
	b.mu.RUnlock()
	if session == nil {
		return false
	}
	b.drop(id)
	return true
}

func (b *Bridge) sessionByID(id string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id == "" {
		id = b.activeID
	}
	session := b.sessions[id]
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Active      bool      `json:"active"`
}

func (b *Bridge) ListSessions() []SessionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SessionInfo, 0, len(b.sessions))
	for id, s := range b.sessions {
		s.mu.Lock()
		out = append(out, SessionInfo{
			ID:          id,
			RemoteAddr:  s.RemoteAddr,
			UserAgent:   s.UserAgent,
			ConnectedAt: s.ConnectedAt,
			LastSeen:    s.LastSeen,
			Active:      id == b.activeID,
		})
		s.mu.Unlock()
	}
	return out
}

func (b *Bridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// SendCommand writes cmd to its session (or the active one) and waits for
// the matching response.
func (b *Bridge) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	session, err := b.sessionByID(cmd.SessionID)
	if err != nil {
		return protocol.Response{}, err
	}
	msg, err := json.Marshal(cmd)
	if err != nil {
		return protocol.Response{}, err
	}

	ch := make(chan protocol.Response, 1)
	b.mu.Lock()
	b.pending[cmd.ID] = pendingCall{session: session.ID, ch: ch}
	b.mu.Unlock()

	b.log.Debug("ws command", "session", session.ID, "id", cmd.ID, "type", cmd.Type)
	session.mu.Lock()
	_ = session.Conn.SetWriteDeadline(time.Now().Add(b.writeWait))
	err = session.Conn.WriteMessage(websocket.TextMessage, msg)
	session.mu.Unlock()
	if err != nil {
		b.forget(cmd.ID)
		return protocol.Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		b.forget(cmd.ID)
		return protocol.Response{}, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
