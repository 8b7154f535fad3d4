package live

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
)

const defaultReadLimit = 1 << 20 // 1 MiB

// Options configures a Server.
type Options struct {
	// Codec encodes/decodes wire Messages. Defaults to JSONCodec.
	Codec Codec

	// QueueSize bounds each session's outgoing backlog. Defaults to
	// defaultQueueSize.
	QueueSize int

	// IDGenerator mints session IDs. Defaults to generateID.
	IDGenerator func() string

	// ReadLimit is a frame payload size limit, defaulted to
	// defaultReadLimit. The frame reader does not consult it: an incoming
	// frame is read in full whatever length its header states.
	ReadLimit int64

	// Origins, if non-empty and CheckOrigin is nil, restricts the
	// handshake to requests whose Origin header matches an entry
	// verbatim, or to any origin if the list contains "*".
	Origins []string

	// CheckOrigin, when set, overrides Origins entirely.
	CheckOrigin func(r *http.Request) bool

	// OnAuth resolves a session's identity before the handshake
	// completes. A non-nil error rejects the upgrade with 401.
	OnAuth func(ctx context.Context, r *http.Request) (Meta, error)

	// OnMessage is invoked for every decoded inbound Message.
	OnMessage func(ctx context.Context, s *Session, msg Message)

	// OnClose is invoked once a session's connection has ended, with the
	// error that caused it (nil for a clean close).
	OnClose func(s *Session, err error)
}

// Server hosts one WebSocket endpoint: it upgrades connections into
// Sessions, drives their read/write loops, and owns the PubSub those
// sessions publish and subscribe through.
type Server struct {
	opts   Options
	pubsub *memPubSub

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New constructs a Server, filling unset Options with defaults.
func New(opts Options) *Server {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = generateID
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Server{
		opts:     opts,
		pubsub:   newMemPubSub(),
		sessions: make(map[string]*Session),
	}
}

// Options returns the (defaulted) configuration the Server was built with.
func (srv *Server) Options() Options { return srv.opts }

// PubSub returns the Server's topic registry.
func (srv *Server) PubSub() PubSub { return srv.pubsub }

// Session looks up a connected session by ID, or nil if none matches.
func (srv *Server) Session(id string) *Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return srv.sessions[id]
}

// Sessions returns a snapshot of every currently connected session.
func (srv *Server) Sessions() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount reports how many sessions are currently connected.
func (srv *Server) SessionCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Publish delivers msg to every session subscribed to topic.
func (srv *Server) Publish(topic string, msg Message) {
	srv.pubsub.Publish(topic, msg)
}

// Broadcast delivers msg to every connected session, regardless of topic.
func (srv *Server) Broadcast(msg Message) {
	for _, s := range srv.Sessions() {
		_ = s.Send(msg)
	}
}

func (srv *Server) addSession(s *Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sessions[s.ID()] = s
}

func (srv *Server) removeSession(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s.ID())
	srv.mu.Unlock()
	srv.pubsub.UnsubscribeAll(s)
}

// Handler returns the http.Handler that performs the WebSocket handshake
// and, on success, drives the resulting Session's read/write loops.
func (srv *Server) Handler() http.Handler {
	return http.HandlerFunc(srv.handleConn)
}

func (srv *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	if !srv.originAllowed(r) {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	var meta Meta
	if srv.opts.OnAuth != nil {
		m, err := srv.opts.OnAuth(r.Context(), r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		meta = m
	}

	conn, rw, err := hijack(w)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusInternalServerError)
		return
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	if _, err := rw.WriteString(resp); err != nil {
		conn.Close()
		return
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return
	}

	ws := &wsConn{conn: conn, reader: rw.Reader, writer: rw.Writer}
	s := newSession(srv.opts.IDGenerator(), meta, srv.opts.QueueSize, srv)
	srv.addSession(s)

	go srv.writeLoop(s, ws)
	srv.readLoop(s, ws)
}

func (srv *Server) originAllowed(r *http.Request) bool {
	if srv.opts.CheckOrigin != nil {
		return srv.opts.CheckOrigin(r)
	}
	if len(srv.opts.Origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range srv.opts.Origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (srv *Server) writeLoop(s *Session, ws *wsConn) {
	for {
		select {
		case msg, ok := <-s.sendCh:
			if !ok {
				return
			}
			data, err := srv.opts.Codec.Encode(msg)
			if err != nil {
				continue
			}
			if err := ws.writeMessage(wsTextMessage, data); err != nil {
				s.closeWithError(err)
				return
			}
		case <-s.Done():
			return
		}
	}
}

func (srv *Server) readLoop(s *Session, ws *wsConn) {
	var closeErr error
	defer func() {
		srv.removeSession(s)
		s.closeWithError(closeErr)
		ws.close()
		if srv.opts.OnClose != nil {
			srv.opts.OnClose(s, s.CloseError())
		}
	}()

	for {
		opcode, payload, err := ws.readMessage()
		if err != nil {
			closeErr = err
			return
		}
		switch opcode {
		case wsCloseMessage:
			return
		case wsPingMessage:
			_ = ws.writeMessage(wsPongMessage, payload)
		case wsTextMessage, wsBinaryMessage:
			msg, err := srv.opts.Codec.Decode(payload)
			if err != nil {
				continue
			}
			if srv.opts.OnMessage != nil {
				srv.opts.OnMessage(context.Background(), s, msg)
			}
		}
		if s.IsClosed() {
			return
		}
	}
}

// generateID mints a 16-byte random hex session ID, the default
// IDGenerator.
func generateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func uintToString(n uint64) string {
	return fmt.Sprintf("%d", n)
}
