package room

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cinema-room/backend/internal/model/room"
	"github.com/zhouzirui/cinema-room/backend/internal/roomtest"
	roomservice "github.com/zhouzirui/cinema-room/backend/internal/service/room"
)

type sseEvent struct {
	name string
	data string
}

func setupRouter(t *testing.T) (*chi.Mux, *roomservice.Manager) {
	t.Helper()

	roomSrv := httptest.NewServer(roomtest.NewServer())
	t.Cleanup(roomSrv.Close)

	dialer := roomservice.NewWebSocketDialer("ws"+strings.TrimPrefix(roomSrv.URL, "http"), &roomservice.WebSocketOptions{
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     2 * time.Second,
	}, nil)
	manager := roomservice.NewManager(dialer)
	t.Cleanup(manager.CloseAll)

	handler := New(manager, nil)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, manager
}

// readEvent skips comments and returns the next named event.
func readEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()

	var evt sseEvent
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			evt.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.data = strings.TrimPrefix(line, "data: ")
		case line == "" && evt.name != "":
			return evt
		}
	}
}

func waitForEvent(t *testing.T, reader *bufio.Reader, name string) sseEvent {
	t.Helper()
	for i := 0; i < 20; i++ {
		evt := readEvent(t, reader)
		if evt.name == name {
			return evt
		}
	}
	t.Fatalf("event %s never arrived", name)
	return sseEvent{}
}

func TestSendMessageUnknownView(t *testing.T) {
	r, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms/room-1/views/missing/messages", strings.NewReader(`{"text":"hi"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendMessageInvalidBody(t *testing.T) {
	r, _ := setupRouter(t)

	for _, body := range []string{`not-json`, `{"text":"   "}`} {
		req := httptest.NewRequest(http.MethodPost, "/rooms/room-1/views/v1/messages", strings.NewReader(body))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestSnapshotRoomMismatch(t *testing.T) {
	r, manager := setupRouter(t)
	if _, err := manager.Open("v1", "room-1", "ana"); err != nil {
		t.Fatalf("Open err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/rooms/room-2/views/v1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rooms/r/events?token=from-query", nil)
	if got := bearerToken(req); got != "from-query" {
		t.Fatalf("expected query token, got %q", got)
	}

	req.Header.Set("Authorization", "Bearer from-header")
	if got := bearerToken(req); got != "from-header" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestEventStreamLifecycle(t *testing.T) {
	r, manager := setupRouter(t)
	api := httptest.NewServer(r)
	defer api.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL+"/rooms/room-42/events", nil)
	if err != nil {
		t.Fatalf("NewRequest err: %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events err: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	if first.name != "view" {
		t.Fatalf("expected view event first, got %s", first.name)
	}
	var view viewPayload
	if err := json.Unmarshal([]byte(first.data), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.RoomID != "room-42" || view.ViewID == "" {
		t.Fatalf("unexpected view payload %+v", view)
	}

	state := waitForEvent(t, reader, "state")
	if !strings.Contains(state.data, `"joined"`) {
		t.Fatalf("expected joined state, got %s", state.data)
	}

	roster := waitForEvent(t, reader, "roster")
	var participants []room.Participant
	if err := json.Unmarshal([]byte(roster.data), &participants); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(participants) != 1 || participants[0].DisplayName != "tok-1" {
		t.Fatalf("unexpected roster %+v", participants)
	}

	body := bytes.NewBufferString(`{"text":"hello"}`)
	postResp, err := http.Post(api.URL+"/rooms/room-42/views/"+view.ViewID+"/messages", "application/json", body)
	if err != nil {
		t.Fatalf("POST message err: %v", err)
	}
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", postResp.StatusCode)
	}

	msgEvt := waitForEvent(t, reader, "message")
	var msg room.Message
	if err := json.Unmarshal([]byte(msgEvt.data), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Text != "hello" || msg.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	snapResp, err := http.Get(api.URL + "/rooms/room-42/views/" + view.ViewID)
	if err != nil {
		t.Fatalf("GET snapshot err: %v", err)
	}
	var snap snapshotPayload
	if err := json.NewDecoder(snapResp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	snapResp.Body.Close()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != msg.ID {
		t.Fatalf("unexpected snapshot messages %+v", snap.Messages)
	}

	// unmount the view
	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for manager.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("view session not torn down, %d open", manager.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventStreamReportsRejectedCredential(t *testing.T) {
	r, manager := setupRouter(t)
	api := httptest.NewServer(r)
	defer api.Close()

	resp, err := http.Get(api.URL + "/rooms/room-42/events")
	if err != nil {
		t.Fatalf("GET events err: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	state := waitForEvent(t, reader, "state")
	if !strings.Contains(state.data, `"disconnected"`) || !strings.Contains(state.data, "401") {
		t.Fatalf("expected disconnected state with 401, got %s", state.data)
	}

	deadline := time.Now().Add(3 * time.Second)
	for manager.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed view not torn down")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
