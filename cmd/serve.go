package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/internal/api"
	"github.com/satriahrh/arunika/convai/internal/conversation"
	"github.com/satriahrh/arunika/convai/internal/websocket"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	agent, err := newAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer agent.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// UI relay: session events out, mute and context commands in
	hub := websocket.NewHub(agent.session, logger)
	go hub.Run(ctx)
	unsubscribe := agent.session.Subscribe(func(ev conversation.Event) {
		hub.Broadcast(ev)
	})
	defer unsubscribe()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if cfg.JWTSecret == "" {
		logger.Warn("CONVAI_JWT_SECRET is not set, control endpoints are unauthenticated")
	}

	api.InitRoutes(e, api.Dependencies{
		Agent:      agent.session,
		Hub:        hub,
		SignedURLs: agent.dialer,
		Format:     cfg.Format,
		JWTSecret:  []byte(cfg.JWTSecret),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Port),
		zap.String("agentID", cfg.ElevenLabs.AgentID),
		zap.String("audioSink", cfg.Sink()))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Server is shutting down...")

	agent.session.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
