// Package ws serves the dashboard's real-time channel. Frames are JSON
// objects of the form {"event": ..., "data": ...}.
//
// Every connection receives "emergency-alert" and "alert-response" as they
// happen. Sending "register-admin" makes it an observer session: it is
// counted as a connected admin and receives "recent-alerts" with the backlog.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/campus-alert-relay/internal/alerts"
	"github.com/mr1hm/campus-alert-relay/internal/fanout"
)

const (
	EventRegisterAdmin = "register-admin"
	EventRecentAlerts  = "recent-alerts"
	EventError         = "error"

	defaultAdminName = "Admin"
	maxMessageSize   = 4096
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type registerPayload struct {
	Name string `json:"name"`
}

type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	mgr  *alerts.Manager
	cfg  Config
	quit chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewHandler(mgr *alerts.Manager, cfg Config) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{mgr: mgr, cfg: cfg, quit: make(chan struct{})}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	id := uuid.NewString()
	sub := h.mgr.Listen(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mgr.Disconnect(sub)
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{
		id:         id,
		h:          h,
		conn:       conn,
		sub:        sub,
		register:   make(chan string, 1),
		readDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	slog.Debug("websocket connected", "conn_id", s.id, "remote", r.RemoteAddr)

	go s.writePump()
	s.readPump()
	<-s.writerDone
}

// Close ends every open session and waits for them to finish.
func (h *Handler) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.quit)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

type session struct {
	id         string
	h          *Handler
	conn       *websocket.Conn
	sub        *fanout.Subscription
	registered bool

	register   chan string
	readDone   chan struct{}
	writerDone chan struct{}
}

func (s *session) readPump() {
	defer close(s.readDone)

	pongWait := s.h.cfg.PingInterval + s.h.cfg.WriteTimeout
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "conn_id", s.id, "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}

		switch f.Event {
		case EventRegisterAdmin:
			var p registerPayload
			if len(f.Data) > 0 {
				_ = json.Unmarshal(f.Data, &p)
			}
			if p.Name == "" {
				p.Name = defaultAdminName
			}
			select {
			case s.register <- p.Name:
			case <-s.writerDone:
				return
			}
		default:
			slog.Debug("ignoring websocket event", "conn_id", s.id, "event", f.Event)
		}
	}
}

// writePump is the only writer on the connection. Registration happens here
// so the backlog is always written before any event broadcast after it.
func (s *session) writePump() {
	ticker := time.NewTicker(s.h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.h.mgr.Disconnect(s.sub)
		s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case name := <-s.register:
			if s.registered {
				continue
			}
			backlog, err := s.h.mgr.Register(context.Background(), s.sub, name)
			if err != nil {
				slog.Error("failed to register observer", "conn_id", s.id, "error", err)
				if s.write(EventError, "registration failed") != nil {
					return
				}
				continue
			}
			s.registered = true
			if s.write(EventRecentAlerts, backlog) != nil {
				return
			}

		case e, ok := <-s.sub.C:
			if !ok {
				s.closeWith(websocket.CloseGoingAway, "server shutting down")
				return
			}
			if s.write(string(e.Kind), e.Alert) != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.h.quit:
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case <-s.readDone:
			return
		}
	}
}

func (s *session) write(event string, data any) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(outFrame{Event: event, Data: data}); err != nil {
		slog.Debug("websocket write failed", "conn_id", s.id, "event", event, "error", err)
		return err
	}
	return nil
}

func (s *session) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.h.cfg.WriteTimeout))
}
