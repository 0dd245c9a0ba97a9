package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain"
	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/internal/auth"
	"github.com/satriahrh/arunika/convai/internal/websocket"
)

// Dependencies are the collaborators the routes need
type Dependencies struct {
	Agent      Agent
	Hub        *websocket.Hub
	SignedURLs SignedURLProvider // optional
	Format     entities.PCMFormat
	// JWTSecret enables operator authentication when not empty
	JWTSecret []byte
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handlers{deps: deps, logger: logger}
	protected := requireOperator(deps.JWTSecret, logger)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "convai",
		})
	})

	e.GET("/audio-context", h.audioContext)

	// Agent lifecycle
	e.POST("/start-agent", h.startAgent, protected)
	e.POST("/stop-agent", h.stopAgent, protected)

	// API v1 routes
	v1 := e.Group("/api/v1", protected)
	v1.GET("/status", h.status)
	v1.POST("/context", h.updateContext)
	v1.POST("/mute", h.mute)
	v1.GET("/signed-url", h.signedURL)

	// UI relay
	e.GET("/agent-socket", func(c echo.Context) error {
		return websocket.HandleWebSocket(deps.Hub, c, logger)
	}, protected)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) audioContext(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Format)
}

func (h *handlers) startAgent(c echo.Context) error {
	var req StartAgentRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			h.logger.Error("Failed to bind start agent request", zap.Error(err))
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request format",
			})
		}
	}

	if h.deps.Agent.State() != entities.StateDisconnected {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "already_running",
			Message: "Agent is already running",
		})
	}

	if err := h.deps.Agent.Connect(c.Request().Context(), req.Context); err != nil {
		if errors.Is(err, domain.ErrAlreadyConnected) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "already_running",
				Message: "Agent is already running",
			})
		}
		h.logger.Error("Failed to start agent", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "connect_failed",
			Message: err.Error(),
		})
	}

	h.logger.Info("Agent started", zap.Int("contextKeys", len(req.Context)))
	return c.JSON(http.StatusOK, h.deps.Agent.Status())
}

func (h *handlers) stopAgent(c echo.Context) error {
	if h.deps.Agent.State() == entities.StateDisconnected {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "not_running",
			Message: "Agent is not running",
		})
	}

	if err := h.deps.Agent.Disconnect(); err != nil {
		h.logger.Error("Failed to stop agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "disconnect_failed",
			Message: err.Error(),
		})
	}

	h.logger.Info("Agent stopped")
	return c.JSON(http.StatusOK, MessageResponse{Message: "agent stopped"})
}

func (h *handlers) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Agent.Status())
}

func (h *handlers) updateContext(c echo.Context) error {
	var req ContextUpdateRequest
	if err := c.Bind(&req); err != nil || req.Data == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Context data object is required",
		})
	}

	if err := h.deps.Agent.SendContextUpdate(req.Data); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			return c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "not_connected",
				Message: "Agent is not connected",
			})
		}
		h.logger.Error("Failed to send context update", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "send_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "context updated"})
}

func (h *handlers) mute(c echo.Context) error {
	var req MuteRequest
	if err := c.Bind(&req); err != nil || req.Muted == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "muted flag is required",
		})
	}

	h.deps.Agent.SetMuted(*req.Muted)
	return c.JSON(http.StatusOK, MuteResponse{Muted: *req.Muted})
}

func (h *handlers) signedURL(c echo.Context) error {
	if h.deps.SignedURLs == nil {
		return c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error:   "unsupported",
			Message: "Signed URLs are not available",
		})
	}

	url, err := h.deps.SignedURLs.SignedURL(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to get signed URL", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "signed_url_failed",
			Message: "Failed to get signed URL",
		})
	}

	return c.JSON(http.StatusOK, SignedURLResponse{SignedURL: url})
}

// requireOperator validates operator tokens from the Authorization header
// or the token query parameter. With no secret every request passes.
func requireOperator(secret []byte, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(secret) == 0 {
			return next
		}

		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				token = c.QueryParam("token")
			}

			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required",
				})
			}

			claims, err := auth.ValidateToken(secret, token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set("operator", claims.Subject)
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
