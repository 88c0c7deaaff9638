package room

import "fmt"

// State 表示房间会话的连接阶段。
type State int

const (
	// StateDisconnected 是零值，同时也是会话的终止状态。
	StateDisconnected State = iota
	// StateConnecting 已发起连接，尚未收到服务端确认。
	StateConnecting
	// StateJoined 已收到确认并发送了入房请求。
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// MarshalText 让状态在 JSON 中以字符串形式出现。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析 MarshalText 的输出。
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = StateConnecting
	case "joined":
		*s = StateJoined
	case "disconnected":
		*s = StateDisconnected
	default:
		return fmt.Errorf("unknown room state %q", text)
	}
	return nil
}
