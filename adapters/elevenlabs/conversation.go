package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/internal/conversation"
	convaiws "github.com/satriahrh/arunika/convai/internal/websocket"
)

const (
	defaultAPIBaseURL       = "https://api.elevenlabs.io/v1"
	defaultWebsocketURL     = "wss://api.elevenlabs.io/v1/convai/conversation"
	defaultHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout   = 15 * time.Second
)

// ConversationConfig holds configuration for the conversational agent connection
// Required fields:
// - APIKey: Your ElevenLabs API key
// - AgentID: The conversational agent to talk to
// Optional fields with defaults:
// - APIBaseURL: The base URL for the REST API (default: "https://api.elevenlabs.io/v1")
// - WebsocketURL: The conversation endpoint (default: "wss://api.elevenlabs.io/v1/convai/conversation")
// - UseSignedURL: Fetch a short-lived signed URL instead of sending the API key on the socket
// - HandshakeTimeout: Websocket handshake timeout (default: 10s)
type ConversationConfig struct {
	APIKey           string        `yaml:"api_key"`           // Required: Your ElevenLabs API key
	AgentID          string        `yaml:"agent_id"`          // Required: The agent ID
	APIBaseURL       string        `yaml:"api_base_url"`      // Optional: The REST base URL
	WebsocketURL     string        `yaml:"websocket_url"`     // Optional: The conversation endpoint
	UseSignedURL     bool          `yaml:"use_signed_url"`    // Optional: Dial through a signed URL
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // Optional: Websocket handshake timeout
}

// ConversationDialer opens conversation sockets to an ElevenLabs agent
type ConversationDialer struct {
	apiKey       string
	agentID      string
	apiBaseURL   string
	websocketURL string
	useSignedURL bool
	dialer       *websocket.Dialer
	httpClient   *http.Client
	logger       *zap.Logger
}

// Ensure ConversationDialer implements the conversation Dialer interface
var _ conversation.Dialer = (*ConversationDialer)(nil)

// signedURLResponse is the payload of the signed URL endpoint
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// ValidateConversationConfig validates the ConversationConfig
func ValidateConversationConfig(config ConversationConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("elevenlabs API key is required")
	}

	if config.AgentID == "" {
		return fmt.Errorf("agent ID is required")
	}

	if config.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout must be positive, got %s", config.HandshakeTimeout)
	}

	if config.WebsocketURL != "" {
		u, err := url.Parse(config.WebsocketURL)
		if err != nil {
			return fmt.Errorf("invalid websocket URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("websocket URL must use ws or wss, got %q", u.Scheme)
		}
	}

	return nil
}

// NewConversationDialer creates a new dialer
func NewConversationDialer(config ConversationConfig, logger *zap.Logger) (*ConversationDialer, error) {
	// Validate required configuration
	if err := ValidateConversationConfig(config); err != nil {
		return nil, err
	}

	// Apply defaults where needed
	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	websocketURL := config.WebsocketURL
	if websocketURL == "" {
		websocketURL = defaultWebsocketURL
		logger.Info("Using default websocket URL", zap.String("websocketURL", websocketURL))
	}

	handshakeTimeout := config.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultHandshakeTimeout
		logger.Info("Using default handshake timeout", zap.Duration("handshakeTimeout", handshakeTimeout))
	}

	return &ConversationDialer{
		apiKey:       config.APIKey,
		agentID:      config.AgentID,
		apiBaseURL:   apiBaseURL,
		websocketURL: websocketURL,
		useSignedURL: config.UseSignedURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger,
	}, nil
}

// ConversationURL returns the websocket URL for the configured agent
func (d *ConversationDialer) ConversationURL() (string, error) {
	u, err := url.Parse(d.websocketURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", d.agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a conversation socket
func (d *ConversationDialer) Dial(ctx context.Context) (conversation.Socket, error) {
	header := http.Header{}
	var target string

	if d.useSignedURL {
		signed, err := d.SignedURL(ctx)
		if err != nil {
			return nil, err
		}
		target = signed
	} else {
		u, err := d.ConversationURL()
		if err != nil {
			return nil, err
		}
		target = u
		header.Set("xi-api-key", d.apiKey)
	}

	d.logger.Debug("Dialing agent", zap.String("agentID", d.agentID), zap.Bool("signedURL", d.useSignedURL))

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, fmt.Errorf("websocket handshake failed with status %d: %s: %w", resp.StatusCode, body, err)
		}
		return nil, fmt.Errorf("failed to dial agent: %w", err)
	}

	return convaiws.NewConn(conn, d.logger), nil
}

// SignedURL requests a short-lived URL that lets a client join the
// conversation without the API key
func (d *ConversationDialer) SignedURL(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/convai/conversation/get_signed_url?agent_id=%s", d.apiBaseURL, url.QueryEscape(d.agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("xi-api-key", d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		d.logger.Error("ElevenLabs API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return "", fmt.Errorf("signed URL request failed with status %d", resp.StatusCode)
	}

	var payload signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode signed URL response: %w", err)
	}
	if payload.SignedURL == "" {
		return "", fmt.Errorf("signed URL response was empty")
	}

	return payload.SignedURL, nil
}

// NewConversationConfigFromEnv creates a ConversationConfig from environment variables
func NewConversationConfigFromEnv() ConversationConfig {
	config := ConversationConfig{
		APIKey:       os.Getenv("ELEVENLABS_API_KEY"),
		AgentID:      os.Getenv("AGENT_ID"),
		APIBaseURL:   os.Getenv("ELEVENLABS_API_BASE_URL"),
		WebsocketURL: os.Getenv("ELEVENLABS_WEBSOCKET_URL"),
	}

	if v, err := strconv.ParseBool(os.Getenv("ELEVENLABS_USE_SIGNED_URL")); err == nil {
		config.UseSignedURL = v
	}

	if v, err := time.ParseDuration(os.Getenv("ELEVENLABS_HANDSHAKE_TIMEOUT")); err == nil {
		config.HandshakeTimeout = v
	}

	return config
}
