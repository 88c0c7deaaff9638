package room

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/cinema-room/backend/internal/model/room"
	roomservice "github.com/zhouzirui/cinema-room/backend/internal/service/room"
	"github.com/zhouzirui/cinema-room/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler 把浏览器端的放映厅视图桥接到房间会话。
// 每个 SSE 连接就是一个视图：连接建立时创建会话，断开时拆除。
type Handler struct {
	manager   *roomservice.Manager
	logger    *zap.SugaredLogger
	heartbeat time.Duration
}

// New 创建房间处理器
func New(manager *roomservice.Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		manager:   manager,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// RegisterRoutes 注册房间相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rooms/{roomID}/events", h.handleEvents)
	r.Get("/rooms/{roomID}/views/{viewID}", h.handleSnapshot)
	r.Post("/rooms/{roomID}/views/{viewID}/messages", h.handleSendMessage)
}

type viewPayload struct {
	ViewID string     `json:"viewId"`
	RoomID string     `json:"roomId"`
	State  room.State `json:"state"`
}

type statePayload struct {
	State room.State `json:"state"`
	Error string     `json:"error,omitempty"`
}

type snapshotPayload struct {
	ViewID       string             `json:"viewId"`
	RoomID       string             `json:"roomId"`
	State        room.State         `json:"state"`
	Error        string             `json:"error,omitempty"`
	Messages     []room.Message     `json:"messages"`
	Participants []room.Participant `json:"participants"`
}

type update struct {
	event string
	state room.State
	data  any
}

// handleEvents 打开一个视图并以 SSE 推送会话变化
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	viewID := uuid.NewString()
	logger := h.logger.With("room", roomID, "view", viewID)

	updates := make(chan update, 64)
	done := make(chan struct{})
	push := func(u update) {
		select {
		case updates <- u:
		case <-done:
		}
	}

	hooks := roomservice.Hooks{
		OnState: func(s room.State) {
			push(update{event: "state", state: s})
		},
		OnMessage: func(m room.Message) {
			push(update{event: "message", data: m})
		},
		OnRoster: func(p []room.Participant) {
			push(update{event: "roster", data: p})
		},
	}

	session, err := h.manager.Open(viewID, roomID, bearerToken(r), roomservice.WithHooks(hooks))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() {
		if err := h.manager.Close(viewID); err != nil && !errors.Is(err, roomservice.ErrViewNotFound) {
			logger.Warnw("failed to close view session", "error", err)
		}
		logger.Infow("view closed")
	}()
	defer close(done)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	logger.Infow("view opened")

	if err := utils.SendSSEEvent(w, flusher, "view", viewPayload{
		ViewID: viewID,
		RoomID: roomID,
		State:  session.State(),
	}); err != nil {
		logger.Debugw("client gone before first event", "error", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if err := h.write(w, flusher, session, u); err != nil {
				logger.Debugw("sse write failed", "error", err)
				return
			}
		case <-session.Done():
			// flush what the session reported before it stopped
			for {
				select {
				case u := <-updates:
					if err := h.write(w, flusher, session, u); err != nil {
						return
					}
				default:
					return
				}
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(w http.ResponseWriter, flusher http.Flusher, session *roomservice.Session, u update) error {
	if u.event != "state" {
		return utils.SendSSEEvent(w, flusher, u.event, u.data)
	}

	payload := statePayload{State: u.state}
	if u.state == room.StateDisconnected {
		if err := session.Err(); err != nil {
			payload.Error = err.Error()
		}
	}
	return utils.SendSSEEvent(w, flusher, u.event, payload)
}

// handleSnapshot 返回视图当前的消息与成员
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	payload := snapshotPayload{
		ViewID:       chi.URLParam(r, "viewID"),
		RoomID:       session.RoomID(),
		State:        session.State(),
		Messages:     session.Messages(),
		Participants: session.Participants(),
	}
	if err := session.Err(); err != nil {
		payload.Error = err.Error()
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

// handleSendMessage 通过视图的会话发送消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	// 未入房时 SendMessage 静默丢弃，这里仍然返回 202
	session.SendMessage(payload.Text)
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*roomservice.Session, bool) {
	roomID := chi.URLParam(r, "roomID")
	viewID := chi.URLParam(r, "viewID")

	session, ok := h.manager.Get(viewID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, roomservice.ErrViewNotFound.Error())
		return nil, false
	}
	if session.RoomID() != roomID {
		utils.RespondError(w, http.StatusBadRequest, "view belongs to another room")
		return nil, false
	}
	return session, true
}

// bearerToken 优先读取 Authorization 头，EventSource 无法设置请求头时退回 token 查询参数。
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
