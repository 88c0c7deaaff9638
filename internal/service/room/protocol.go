package room

import (
	"context"
	"encoding/json"
	"fmt"
)

// 入站事件名称。
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
	EventParticipants = "participants"
	EventMessage      = "message"
)

// 出站事件名称。
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
)

// Event 是一帧实时通道上的事件信封。
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRequest 在收到连接确认后发送一次。
type JoinRequest struct {
	RoomID string `json:"roomId"`
}

// SendRequest 对应一次 SendMessage 调用。
type SendRequest struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// DisconnectInfo 携带断开或连接失败的原因。
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// NewEvent 将负载编码为事件信封，payload 为 nil 时不携带 data。
func NewEvent(name string, payload any) (Event, error) {
	evt := Event{Name: name}
	if payload == nil {
		return evt, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	evt.Data = data
	return evt, nil
}

// Decode 将事件负载解码到 target。
func (e Event) Decode(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return nil
}

// Conn 是会话独占的底层连接。
type Conn interface {
	// Emit 发送一个出站事件。
	Emit(event string, payload any) error
	// Listen 按传输顺序把入站事件交给 sink，同一时刻只有一个 goroutine 调用 sink。
	// 实现可以阻塞到连接结束；链路断开时投递一次 EventDisconnect。
	Listen(sink func(Event))
	// Close 关闭连接。之后的 Emit 不得写到链路上，应返回错误。
	Close() error
}

// Dialer 使用凭证建立连接。凭证只在建立连接时传递一次。
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}
