package room

import (
	"errors"
	"sync"
)

var ErrViewNotFound = errors.New("view not found")

// Manager 按视图管理房间会话，每个视图同一时刻最多持有一个会话。
type Manager struct {
	dialer Dialer
	opts   []Option

	mu    sync.RWMutex
	views map[string]*Session
}

// NewManager 创建会话管理器，opts 会应用到它创建的每个会话。
func NewManager(dialer Dialer, opts ...Option) *Manager {
	return &Manager{
		dialer: dialer,
		opts:   opts,
		views:  make(map[string]*Session),
	}
}

// Open 为视图返回会话。身份（房间 + 凭证）不变且会话仍存活时复用现有会话，
// 否则先关闭旧会话再创建新会话。viewOpts 只在新建会话时生效。
func (m *Manager) Open(viewID, roomID, credential string, viewOpts ...Option) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.views[viewID]; ok {
		if existing.Matches(roomID, credential) && !existing.finished() {
			return existing, nil
		}
		// 身份变化或旧会话已失败：先拆除再重新拨号
		_ = existing.Close()
		delete(m.views, viewID)
	}

	opts := make([]Option, 0, len(m.opts)+len(viewOpts))
	opts = append(opts, m.opts...)
	opts = append(opts, viewOpts...)

	session, err := NewSession(roomID, credential, m.dialer, opts...)
	if err != nil {
		return nil, err
	}

	m.views[viewID] = session
	return session, nil
}

// Get 获取视图当前的会话
func (m *Manager) Get(viewID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.views[viewID]
	return session, ok
}

// Close 拆除视图的会话并移除
func (m *Manager) Close(viewID string) error {
	m.mu.Lock()
	session, ok := m.views[viewID]
	if ok {
		delete(m.views, viewID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrViewNotFound
	}
	return session.Close()
}

// CloseAll 关闭所有会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for viewID, session := range m.views {
		_ = session.Close()
		delete(m.views, viewID)
	}
}

// Len 返回当前打开的视图数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}
