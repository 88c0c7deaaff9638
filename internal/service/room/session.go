package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/cinema-room/backend/internal/model/room"
)

var (
	ErrRoomRequired = errors.New("room id is required")
	ErrDisconnected = errors.New("room connection lost")
)

// Hooks receive session changes in the order the transport delivered them.
// They run on the transport goroutine and must not block for long. The final
// OnState(StateDisconnected) caused by Close runs on the goroutine calling Close.
type Hooks struct {
	OnState   func(room.State)
	OnMessage func(room.Message)
	OnRoster  func([]room.Participant)
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistoryLimit bounds the message history to the newest n messages. Zero keeps everything.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		s.history = newHistory(n)
	}
}

// WithHooks registers change callbacks.
func WithHooks(hooks Hooks) Option {
	return func(s *Session) {
		s.hooks = hooks
	}
}

// Session owns one live connection to a room for the lifetime of a view.
// A session is never reused: a new room or credential needs a new Session.
type Session struct {
	roomID     string
	credential string
	dialer     Dialer
	logger     *zap.SugaredLogger
	hooks      Hooks

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	mu           sync.RWMutex
	state        room.State
	conn         Conn
	history      *history
	participants []room.Participant
	err          error
	closed       bool
}

// NewSession starts connecting to roomID and returns immediately in StateConnecting.
func NewSession(roomID, credential string, dialer Dialer, opts ...Option) (*Session, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if dialer == nil {
		return nil, fmt.Errorf("room %s: dialer is required", roomID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:       roomID,
		credential:   credential,
		dialer:       dialer,
		logger:       zap.NewNop().Sugar(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		state:        room.StateConnecting,
		history:      newHistory(0),
		participants: []room.Participant{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("room", roomID)

	go s.connect()

	return s, nil
}

// RoomID returns the room this session was created for.
func (s *Session) RoomID() string {
	return s.roomID
}

// Matches reports whether the session was created for the given identity.
func (s *Session) Matches(roomID, credential string) bool {
	return s.roomID == roomID && s.credential == credential
}

// State returns the current connection state.
func (s *Session) State() room.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the reason the session reached StateDisconnected on its own, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once the session is terminally disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Messages returns a copy of the history in receipt order.
func (s *Session) Messages() []room.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.snapshot()
}

// Participants returns a copy of the latest roster snapshot.
func (s *Session) Participants() []room.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyParticipants(s.participants)
}

// SendMessage asks the server to broadcast text to the room. It is a no-op
// unless the session is joined; the message shows up in the history only
// when the server echoes it back.
func (s *Session) SendMessage(text string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.state != room.StateJoined || s.conn == nil {
		s.logger.Debugw("dropping message, session not joined")
		return
	}

	// Close waits for the write lock, so the conn stays open for this emit.
	if err := s.conn.Emit(EventSendMessage, SendRequest{RoomID: s.roomID, Text: text}); err != nil {
		s.logger.Warnw("send message failed", "error", err)
	}
}

// Close tears the session down. Only the first call has an effect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasLive := s.state != room.StateDisconnected
	s.state = room.StateDisconnected
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if wasLive && s.hooks.OnState != nil {
		s.hooks.OnState(room.StateDisconnected)
	}
	s.finish()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close room %s: %w", s.roomID, err)
	}
	s.logger.Debugw("session closed")
	return nil
}

func (s *Session) connect() {
	conn, err := s.dialer.Dial(s.ctx, s.credential)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Close won the race with the dial.
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(fmt.Errorf("dial room %s: %w", s.roomID, err))
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Debugw("connection opened, waiting for ack")
	conn.Listen(s.handle)
}

func (s *Session) handle(evt Event) {
	switch evt.Name {
	case EventConnect:
		s.handleConnect()
	case EventParticipants:
		s.handleRoster(evt)
	case EventMessage:
		s.handleMessage(evt)
	case EventDisconnect, EventConnectError:
		var info DisconnectInfo
		if len(evt.Data) > 0 {
			if err := evt.Decode(&info); err != nil {
				s.logger.Debugw("undecodable disconnect reason", "error", err)
			}
		}
		if info.Reason == "" {
			info.Reason = evt.Name
		}
		s.fail(fmt.Errorf("%w: %s", ErrDisconnected, info.Reason))
	default:
		s.logger.Debugw("ignoring unknown event", "event", evt.Name)
	}
}

func (s *Session) handleConnect() {
	s.mu.Lock()
	if s.closed || s.state != room.StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = room.StateJoined
	// The join request goes out while holding the lock so no send can overtake it.
	if err := s.conn.Emit(EventJoinRoom, JoinRequest{RoomID: s.roomID}); err != nil {
		s.logger.Warnw("join request failed", "error", err)
	}
	s.mu.Unlock()

	s.logger.Infow("joined room")
	if s.hooks.OnState != nil {
		s.hooks.OnState(room.StateJoined)
	}
}

func (s *Session) handleRoster(evt Event) {
	var participants []room.Participant
	if err := evt.Decode(&participants); err != nil {
		s.logger.Warnw("skipping roster snapshot", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed || s.state != room.StateJoined {
		s.mu.Unlock()
		return
	}
	s.participants = copyParticipants(participants)
	s.mu.Unlock()

	if s.hooks.OnRoster != nil {
		s.hooks.OnRoster(copyParticipants(participants))
	}
}

func (s *Session) handleMessage(evt Event) {
	var msg room.Message
	if err := evt.Decode(&msg); err != nil {
		s.logger.Warnw("skipping message", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed || s.state != room.StateJoined {
		s.mu.Unlock()
		return
	}
	s.history.append(msg)
	s.mu.Unlock()

	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(msg)
	}
}

// fail moves a live session to the terminal state without closing the connection handle;
// Close still releases it.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed || s.state == room.StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = room.StateDisconnected
	s.err = err
	s.mu.Unlock()

	s.logger.Warnw("room session disconnected", "error", err)
	if s.hooks.OnState != nil {
		s.hooks.OnState(room.StateDisconnected)
	}
	s.finish()
}

// finished reports whether Done has been closed.
func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func copyParticipants(in []room.Participant) []room.Participant {
	out := make([]room.Participant, len(in))
	copy(out, in)
	return out
}
