package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

func TestValidateConversationConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ConversationConfig
		wantErr bool
	}{
		{
			name:   "valid config",
			config: ConversationConfig{APIKey: "key", AgentID: "agent"},
		},
		{
			name:    "missing API key",
			config:  ConversationConfig{AgentID: "agent"},
			wantErr: true,
		},
		{
			name:    "missing agent ID",
			config:  ConversationConfig{APIKey: "key"},
			wantErr: true,
		},
		{
			name:    "negative handshake timeout",
			config:  ConversationConfig{APIKey: "key", AgentID: "agent", HandshakeTimeout: -time.Second},
			wantErr: true,
		},
		{
			name:    "non websocket URL",
			config:  ConversationConfig{APIKey: "key", AgentID: "agent", WebsocketURL: "https://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConversationConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConversationConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConversationConfigFromEnv(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "test-api-key")
	t.Setenv("AGENT_ID", "agent-42")
	t.Setenv("ELEVENLABS_USE_SIGNED_URL", "true")
	t.Setenv("ELEVENLABS_HANDSHAKE_TIMEOUT", "3s")

	config := NewConversationConfigFromEnv()
	if config.APIKey != "test-api-key" {
		t.Errorf("Expected API key 'test-api-key', got '%s'", config.APIKey)
	}
	if config.AgentID != "agent-42" {
		t.Errorf("Expected agent ID 'agent-42', got '%s'", config.AgentID)
	}
	if !config.UseSignedURL {
		t.Error("Expected signed URL mode")
	}
	if config.HandshakeTimeout != 3*time.Second {
		t.Errorf("Expected handshake timeout 3s, got %s", config.HandshakeTimeout)
	}
}

func TestNewConversationDialer_Defaults(t *testing.T) {
	dialer, err := NewConversationDialer(ConversationConfig{APIKey: "key", AgentID: "agent 1"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create dialer: %v", err)
	}

	if dialer.apiBaseURL != defaultAPIBaseURL {
		t.Errorf("Expected default API base URL '%s', got '%s'", defaultAPIBaseURL, dialer.apiBaseURL)
	}

	got, err := dialer.ConversationURL()
	if err != nil {
		t.Fatalf("ConversationURL failed: %v", err)
	}
	want := "wss://api.elevenlabs.io/v1/convai/conversation?agent_id=agent+1"
	if got != want {
		t.Errorf("Expected URL %s, got %s", want, got)
	}
}

func TestConversationDialer_Dial(t *testing.T) {
	upgrader := websocket.Upgrader{}
	headers := make(chan http.Header, 1)
	agents := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		agents <- r.URL.Query().Get("agent_id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_initiation_metadata"}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	dialer, err := NewConversationDialer(ConversationConfig{
		APIKey:       "secret",
		AgentID:      "agent-7",
		WebsocketURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create dialer: %v", err)
	}

	socket, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer socket.Close()

	if h := <-headers; h.Get("xi-api-key") != "secret" {
		t.Errorf("Expected xi-api-key header 'secret', got '%s'", h.Get("xi-api-key"))
	}
	if agent := <-agents; agent != "agent-7" {
		t.Errorf("Expected agent_id 'agent-7', got '%s'", agent)
	}

	message, err := socket.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !strings.Contains(string(message), "conversation_initiation_metadata") {
		t.Errorf("Unexpected first message: %s", message)
	}
}

func TestConversationDialer_DialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	dialer, err := NewConversationDialer(ConversationConfig{
		APIKey:       "wrong",
		AgentID:      "agent",
		WebsocketURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create dialer: %v", err)
	}

	_, err = dialer.Dial(context.Background())
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestConversationDialer_SignedURL(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var wsURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/convai/conversation/get_signed_url", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("agent_id") != "agent-7" {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(signedURLResponse{SignedURL: wsURL + "/signed?token=abc"})
	})
	mux.HandleFunc("/signed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "abc" || r.Header.Get("xi-api-key") != "" {
			http.Error(w, "bad signed request", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	wsURL = "ws" + strings.TrimPrefix(server.URL, "http")

	dialer, err := NewConversationDialer(ConversationConfig{
		APIKey:       "secret",
		AgentID:      "agent-7",
		APIBaseURL:   server.URL + "/v1",
		UseSignedURL: true,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create dialer: %v", err)
	}

	signed, err := dialer.SignedURL(context.Background())
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}
	if signed != wsURL+"/signed?token=abc" {
		t.Errorf("Unexpected signed URL: %s", signed)
	}

	socket, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial through signed URL failed: %v", err)
	}
	socket.Close()
}
