package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrConnClosed = errors.New("connection closed")

// WebSocketOptions WebSocket 连接配置选项
type WebSocketOptions struct {
	HandshakeTimeout time.Duration // 握手超时时间
	ReadTimeout      time.Duration // 读取超时时间，收到 pong 时刷新
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping 间隔，<=0 表示不发送
}

// DefaultWebSocketOptions 默认连接选项
func DefaultWebSocketOptions() *WebSocketOptions {
	return &WebSocketOptions{
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// WebSocketDialer 通过 WebSocket 连接房间服务。
type WebSocketDialer struct {
	url     string
	options *WebSocketOptions
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
}

// NewWebSocketDialer 创建 WebSocket 拨号器
func NewWebSocketDialer(url string, options *WebSocketOptions, logger *zap.SugaredLogger) *WebSocketDialer {
	if options == nil {
		options = DefaultWebSocketOptions()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &WebSocketDialer{
		url:     url,
		options: options,
		dialer: &websocket.Dialer{
			HandshakeTimeout: options.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Dial 建立连接，凭证以 Bearer 头在握手时发送。
func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	header.Set("X-Connect-Id", connectID)

	ws, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{
		ws:      ws,
		options: d.options,
		logger:  d.logger.With("connectId", connectID),
		closed:  make(chan struct{}),
	}

	if d.options.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(d.options.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(d.options.ReadTimeout))
			return nil
		})
	}

	c.logger.Debugw("websocket connected", "url", d.url)
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	options *WebSocketOptions
	logger  *zap.SugaredLogger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Emit 发送一个 JSON 事件帧
func (c *wsConn) Emit(event string, payload any) error {
	frame, err := NewEvent(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	if c.options.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	}
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", event, err)
	}
	return nil
}

// Listen 读取循环，阻塞直到连接结束。
func (c *wsConn) Listen(sink func(Event)) {
	go c.pingLoop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// 本地主动关闭
				return
			default:
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnw("websocket read error", "error", err)
			}
			evt, _ := NewEvent(EventDisconnect, DisconnectInfo{Reason: err.Error()})
			sink(evt)
			return
		}

		if c.options.ReadTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warnw("skipping malformed frame", "error", err)
			continue
		}
		sink(evt)
	}
}

// Close 发送关闭帧并关闭底层连接，只执行一次。
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		deadline := time.Now().Add(time.Second)
		if c.options.WriteTimeout > 0 {
			deadline = time.Now().Add(c.options.WriteTimeout)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debugw("close frame not sent", "error", err)
		}
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// pingLoop 定期发送 ping 消息
func (c *wsConn) pingLoop() {
	if c.options.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.options.PingInterval)
			if c.options.WriteTimeout > 0 {
				deadline = time.Now().Add(c.options.WriteTimeout)
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}
