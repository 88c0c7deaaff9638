// Package roomtest provides an in-memory room server speaking the same
// event envelope as the session client. It backs transport tests and the
// devroom tool.
package roomtest

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/cinema-room/backend/internal/model/room"
	roomservice "github.com/zhouzirui/cinema-room/backend/internal/service/room"
)

// Server 是一个极简的房间服务端。
type Server struct {
	tokens   map[string]room.Participant
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	clients  map[*client]struct{}
	received []roomservice.Event
	connects []http.Header
}

type client struct {
	conn        *websocket.Conn
	participant room.Participant
	roomID      string
	writeMu     sync.Mutex
}

// Option customizes a Server.
type Option func(*Server)

// WithTokens restricts accepted bearer tokens; each token maps to the participant it authenticates.
func WithTokens(tokens map[string]room.Participant) Option {
	return func(s *Server) {
		s.tokens = tokens
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server that accepts any non-empty token unless WithTokens is given.
func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  zap.NewNop().Sugar(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) authorize(token string) (room.Participant, bool) {
	if token == "" {
		return room.Participant{}, false
	}
	if s.tokens == nil {
		return room.Participant{DisplayName: token}, true
	}
	p, ok := s.tokens[token]
	return p, ok
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	participant, ok := s.authorize(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	participant.ID = uuid.NewString()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, participant: participant}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.connects = append(s.connects, r.Header.Clone())
	s.mu.Unlock()

	defer s.drop(c)

	s.send(c, roomservice.EventConnect, nil)

	for {
		var evt roomservice.Event
		if err := conn.ReadJSON(&evt); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, evt)
		s.mu.Unlock()

		switch evt.Name {
		case roomservice.EventJoinRoom:
			var req roomservice.JoinRequest
			if err := evt.Decode(&req); err != nil || req.RoomID == "" {
				continue
			}
			s.mu.Lock()
			c.roomID = req.RoomID
			s.mu.Unlock()
			s.broadcastRoster(req.RoomID)

		case roomservice.EventSendMessage:
			var req roomservice.SendRequest
			if err := evt.Decode(&req); err != nil || req.RoomID == "" {
				continue
			}
			s.Broadcast(req.RoomID, roomservice.EventMessage, room.Message{
				ID:     uuid.NewString(),
				Author: c.participant.DisplayName,
				Role:   c.participant.Role,
				Text:   req.Text,
				SentAt: time.Now().UTC(),
			})
		}
	}
}

// Broadcast sends an event to every client joined to roomID.
func (s *Server) Broadcast(roomID, event string, payload any) {
	for _, c := range s.members(roomID) {
		s.send(c, event, payload)
	}
}

// Received returns every event clients sent, in arrival order.
func (s *Server) Received() []roomservice.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]roomservice.Event, len(s.received))
	copy(out, s.received)
	return out
}

// Handshakes returns the request headers of every accepted connection.
func (s *Server) Handshakes() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Header, len(s.connects))
	copy(out, s.connects)
	return out
}

// Connected returns the number of live client connections.
func (s *Server) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DisconnectAll closes every client connection from the server side.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (s *Server) members(roomID string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.roomID == roomID {
			members = append(members, c)
		}
	}
	return members
}

func (s *Server) broadcastRoster(roomID string) {
	members := s.members(roomID)
	roster := make([]room.Participant, 0, len(members))
	for _, c := range members {
		roster = append(roster, c.participant)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].DisplayName != roster[j].DisplayName {
			return roster[i].DisplayName < roster[j].DisplayName
		}
		return roster[i].ID < roster[j].ID
	})
	s.Broadcast(roomID, roomservice.EventParticipants, roster)
}

func (s *Server) send(c *client, event string, payload any) {
	frame, err := roomservice.NewEvent(event, payload)
	if err != nil {
		s.logger.Warnw("encode failed", "event", event, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(frame); err != nil {
		s.logger.Debugw("write failed", "event", event, "error", err)
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	roomID := c.roomID
	s.mu.Unlock()

	c.conn.Close()
	if roomID != "" {
		s.broadcastRoster(roomID)
	}
}
