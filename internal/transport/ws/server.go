package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/signaling"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Submitter is the signaling engine as seen by the transport.
type Submitter interface {
	Submit(ctx context.Context, ev signaling.Event) error
}

type Options struct {
	SendBuffer      int
	PingEvery       time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string // empty or "*" accepts any origin
}

type Server struct {
	upgrader websocket.Upgrader
	engine   Submitter
	opts     Options

	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewServer(engine Submitter, opts Options) *Server {
	if opts.PingEvery <= 0 {
		opts.PingEvery = 15 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}

	s := &Server{
		engine: engine,
		opts:   opts,
		conns:  make(map[string]*wsConn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || lo.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return lo.ContainsBy(s.opts.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(strings.TrimRight(o, "/"), origin)
	})
}

// HandleWS upgrades the request and pumps frames into the engine until the
// peer goes away. GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	c := newWsConn(uuid.NewString(), conn, s.opts.SendBuffer)

	if err := s.engine.Submit(ctx, signaling.ConnectEvent(c)); err != nil {
		slog.Warn("ws connect rejected", "conn", c.id, "err", err)
		_ = c.Close()
		return
	}
	s.track(c)
	slog.Debug("ws connected", "conn", c.id, "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(ctx, c)

	_ = c.Close()
	s.untrack(c)
	if err := s.engine.Submit(ctx, signaling.DisconnectEvent(c.id)); err != nil {
		slog.Debug("ws disconnect not delivered", "conn", c.id, "err", err)
	}
	slog.Debug("ws disconnected", "conn", c.id)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	wait := 2 * s.opts.PingEvery

	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(deadline(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(deadline(wait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(deadline(wait))
		if err := s.engine.Submit(ctx, signaling.FrameEvent(c.id, data)); err != nil {
			slog.Warn("ws frame dropped", "conn", c.id, "err", err)
			return
		}
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.opts.PingEvery)
	defer ticker.Stop()
	defer func() { _ = c.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline(s.opts.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("ws write failed", "conn", c.id, "type", msg.Type, "err", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline(s.opts.WriteWait)); err != nil {
				return
			}
		case <-c.done():
			return
		}
	}
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// CloseAll sends a going-away close frame to every open connection and closes
// it. Used on shutdown.
func (s *Server) CloseAll() int {
	s.mu.Lock()
	conns := lo.Values(s.conns)
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline(s.opts.WriteWait))
		_ = c.Close()
	}
	return len(conns)
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
