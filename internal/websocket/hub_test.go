package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type mockCommandHandler struct {
	mu       sync.Mutex
	muted    []bool
	contexts []map[string]any
	err      error
}

func (m *mockCommandHandler) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = append(m.muted, muted)
}

func (m *mockCommandHandler) SendContextUpdate(ctx map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = append(m.contexts, ctx)
	return m.err
}

func (m *mockCommandHandler) snapshot() ([]bool, []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.muted...), append([]map[string]any(nil), m.contexts...)
}

func setupTestHub(t testing.TB) (*Hub, *mockCommandHandler, string) {
	logger := zap.NewNop() // No-op logger for tests
	handler := &mockCommandHandler{}
	hub := NewHub(handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/agent-socket", func(c echo.Context) error {
		return HandleWebSocket(hub, c, logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return hub, handler, "ws" + strings.TrimPrefix(server.URL, "http") + "/agent-socket"
}

func dialRelay(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return hub.ClientCount() == want })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub(&mockCommandHandler{}, zap.NewNop())

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map not initialized")
	}

	if hub.register == nil {
		t.Error("Hub register channel not initialized")
	}

	if hub.unregister == nil {
		t.Error("Hub unregister channel not initialized")
	}

	if hub.broadcast == nil {
		t.Error("Hub broadcast channel not initialized")
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, _, url := setupTestHub(t)

	first := dialRelay(t, hub, url, 1)
	second := dialRelay(t, hub, url, 2)

	hub.Broadcast(map[string]any{"type": "connected"})

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Client %d failed to read broadcast: %v", i, err)
		}

		var event map[string]any
		if err := json.Unmarshal(message, &event); err != nil {
			t.Fatalf("Client %d got invalid JSON: %v", i, err)
		}
		if event["type"] != "connected" {
			t.Errorf("Expected type 'connected', got %v", event["type"])
		}
	}
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, _, url := setupTestHub(t)

	conn := dialRelay(t, hub, url, 1)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHub_Commands(t *testing.T) {
	hub, handler, url := setupTestHub(t)
	conn := dialRelay(t, hub, url, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_muted","muted":true}`)); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"context_update","data":{"topic":"math"}}`)); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}

	waitFor(t, func() bool {
		muted, contexts := handler.snapshot()
		return len(muted) == 1 && len(contexts) == 1
	})

	muted, contexts := handler.snapshot()
	if !muted[0] {
		t.Error("Expected mute to be forwarded as true")
	}
	if contexts[0]["topic"] != "math" {
		t.Errorf("Expected topic 'math', got %v", contexts[0]["topic"])
	}
}

func TestHub_InvalidCommandReplies(t *testing.T) {
	hub, handler, url := setupTestHub(t)
	handler.err = errors.New("conversation is not connected")
	conn := dialRelay(t, hub, url, 1)

	for _, raw := range []string{`{"type":"set_muted"}`, `{"type":"context_update","data":{}}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("Failed to send command: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read reply: %v", err)
		}

		var reply RelayError
		if err := json.Unmarshal(message, &reply); err != nil {
			t.Fatalf("Invalid reply JSON: %v", err)
		}
		if reply.Type != "error" || reply.Message == "" {
			t.Errorf("Expected error reply, got %+v", reply)
		}
	}
}

func TestParseRelayCommand(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{name: "mute", message: `{"type":"set_muted","muted":false}`},
		{name: "context", message: `{"type":"context_update"}`},
		{name: "missing muted", message: `{"type":"set_muted"}`, wantErr: true},
		{name: "missing type", message: `{}`, wantErr: true},
		{name: "unknown type", message: `{"type":"reboot"}`, wantErr: true},
		{name: "bad json", message: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRelayCommand([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRelayCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
