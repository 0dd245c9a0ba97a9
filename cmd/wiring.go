package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/adapters/elevenlabs"
	"github.com/satriahrh/arunika/convai/adapters/microphone"
	"github.com/satriahrh/arunika/convai/adapters/speaker"
	"github.com/satriahrh/arunika/convai/adapters/wavfile"
	"github.com/satriahrh/arunika/convai/domain/repositories"
	"github.com/satriahrh/arunika/convai/internal/config"
	"github.com/satriahrh/arunika/convai/internal/conversation"
)

// loadConfig loads configuration and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newSink(cfg *config.Config, logger *zap.Logger) (repositories.AudioSink, error) {
	switch cfg.Sink() {
	case config.SinkSpeaker:
		return speaker.New(cfg.Format, nil, logger)
	case config.SinkWAV:
		return wavfile.New(cfg.WAVDir, cfg.Format, nil, logger)
	case config.SinkNone:
		return wavfile.New("", cfg.Format, nil, logger)
	default:
		return nil, fmt.Errorf("unknown audio sink %q", cfg.Sink())
	}
}

func newMicrophone(cfg *config.Config, logger *zap.Logger) repositories.Microphone {
	if cfg.DisableAudio {
		logger.Info("Audio disabled, microphone capture is off")
		return nil
	}
	return microphone.New(cfg.Microphone, logger)
}

// agent bundles a session with the resources it owns
type agent struct {
	session *conversation.Session
	dialer  *elevenlabs.ConversationDialer
	sink    repositories.AudioSink
}

func newAgent(cfg *config.Config, logger *zap.Logger) (*agent, error) {
	dialer, err := elevenlabs.NewConversationDialer(cfg.ElevenLabs, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid elevenlabs config: %w", err)
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio sink: %w", err)
	}

	session, err := conversation.NewSession(cfg.Session(), conversation.Dependencies{
		Dialer:     dialer,
		Sink:       sink,
		Microphone: newMicrophone(cfg, logger),
	}, logger)
	if err != nil {
		sink.Close()
		return nil, err
	}

	return &agent{session: session, dialer: dialer, sink: sink}, nil
}

// close disconnects the session and releases the sink
func (a *agent) close() {
	a.session.Disconnect()
	a.sink.Close()
}
