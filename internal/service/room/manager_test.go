package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cinema-room/backend/internal/model/room"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 10 * time.Millisecond
)

// multiDialer hands out a fresh fakeConn per dial.
type multiDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *multiDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{listening: make(chan struct{})}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *multiDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *multiDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func TestManagerReusesMatchingSession(t *testing.T) {
	dialer := &multiDialer{}
	m := NewManager(dialer)
	defer m.CloseAll()

	first, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)
	second, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, m.Len())
}

func TestManagerReplacesOnIdentityChange(t *testing.T) {
	dialer := &multiDialer{}
	m := NewManager(dialer)
	defer m.CloseAll()

	first, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, waitFor, pollEvery)
	waitListening(t, dialer.conn(0))

	second, err := m.Open("view-1", "room-2", "tok")
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 1, dialer.conn(0).closes())

	third, err := m.Open("view-1", "room-2", "tok-rotated")
	require.NoError(t, err)
	require.NotSame(t, second, third)

	got, ok := m.Get("view-1")
	require.True(t, ok)
	require.Same(t, third, got)
	require.Equal(t, "room-2", got.RoomID())
	require.Equal(t, 1, m.Len())
}

func TestManagerClose(t *testing.T) {
	m := NewManager(&multiDialer{})

	s, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)

	require.NoError(t, m.Close("view-1"))
	require.ErrorIs(t, m.Close("view-1"), ErrViewNotFound)

	_, ok := m.Get("view-1")
	require.False(t, ok)
	<-s.Done()
}

func TestManagerRejectsEmptyRoom(t *testing.T) {
	m := NewManager(&multiDialer{})

	_, err := m.Open("view-1", "", "tok")
	require.ErrorIs(t, err, ErrRoomRequired)
	require.Equal(t, 0, m.Len())
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(&multiDialer{})
	a, err := m.Open("view-a", "room-1", "tok")
	require.NoError(t, err)
	b, err := m.Open("view-b", "room-1", "tok")
	require.NoError(t, err)

	m.CloseAll()

	require.Equal(t, 0, m.Len())
	<-a.Done()
	<-b.Done()
}

func TestManagerRedialsFailedSession(t *testing.T) {
	dialer := newFakeDialer()
	dialer.err = errors.New("401 unauthorized")
	m := NewManager(dialer)
	defer m.CloseAll()

	first, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)
	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("first session did not fail")
	}

	second, err := m.Open("view-1", "room-1", "tok")
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, room.StateConnecting, second.State())
	require.Eventually(t, func() bool { return len(dialer.dialed()) == 2 }, waitFor, pollEvery)

	got, ok := m.Get("view-1")
	require.True(t, ok)
	require.Same(t, second, got)
	require.Equal(t, 1, m.Len())
}
