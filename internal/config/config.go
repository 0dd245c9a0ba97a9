// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/arunika/convai/adapters/elevenlabs"
	"github.com/satriahrh/arunika/convai/adapters/microphone"
	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/internal/audio"
	"github.com/satriahrh/arunika/convai/internal/conversation"
	"github.com/satriahrh/arunika/convai/internal/health"
)

// Audio sink kinds
const (
	SinkSpeaker = "speaker"
	SinkWAV     = "wav"
	SinkNone    = "none"
)

// Config is the full service configuration
type Config struct {
	Port         int    `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	DisableAudio bool   `yaml:"disable_audio"`
	AudioSink    string `yaml:"audio_sink"`
	WAVDir       string `yaml:"wav_dir"`
	JWTSecret    string `yaml:"jwt_secret"`

	ElevenLabs elevenlabs.ConversationConfig `yaml:"elevenlabs"`
	Microphone microphone.Config             `yaml:"microphone"`

	Format        entities.PCMFormat   `yaml:"format"`
	Jitter        audio.JitterConfig   `yaml:"jitter"`
	Playback      audio.PlaybackConfig `yaml:"playback"`
	Health        health.Config        `yaml:"health"`
	MicRetryDelay time.Duration        `yaml:"mic_retry_delay"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		Format:   entities.DefaultPCMFormat,
		Jitter: audio.JitterConfig{
			Threshold: audio.DefaultBufferThreshold,
			MaxWait:   audio.DefaultMaxJitterBuffer,
		},
		Playback: audio.PlaybackConfig{Grace: audio.DefaultPlaybackGrace},
		Health: health.Config{
			Interval:     health.DefaultPingInterval,
			RTTThreshold: health.DefaultRTTThreshold,
			MissedPongs:  health.DefaultMissedPongs,
		},
		MicRetryDelay: conversation.DefaultMicRetryDelay,
	}
}

// Load builds the configuration. path may be empty, in which case
// CONVAI_CONFIG is consulted. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONVAI_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("DISABLE_AUDIO", &c.DisableAudio)
	str("CONVAI_AUDIO_SINK", &c.AudioSink)
	str("CONVAI_WAV_DIR", &c.WAVDir)
	str("CONVAI_JWT_SECRET", &c.JWTSecret)

	str("ELEVENLABS_API_KEY", &c.ElevenLabs.APIKey)
	str("AGENT_ID", &c.ElevenLabs.AgentID)
	str("ELEVENLABS_API_BASE_URL", &c.ElevenLabs.APIBaseURL)
	str("ELEVENLABS_WEBSOCKET_URL", &c.ElevenLabs.WebsocketURL)
	boolean("ELEVENLABS_USE_SIGNED_URL", &c.ElevenLabs.UseSignedURL)

	if v, ok := lookup("CONVAI_MIC_COMMAND"); ok && v != "" {
		c.Microphone.Command = strings.Fields(v)
	}

	integer("CONVAI_BUFFER_THRESHOLD", &c.Jitter.Threshold)
	duration("CONVAI_MAX_JITTER_BUFFER", &c.Jitter.MaxWait)
	duration("CONVAI_PLAYBACK_GRACE", &c.Playback.Grace)
	duration("CONVAI_PING_INTERVAL", &c.Health.Interval)
	duration("CONVAI_RTT_THRESHOLD", &c.Health.RTTThreshold)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("2s") or bare milliseconds ("2000")
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Sink resolves which audio sink to use
func (c *Config) Sink() string {
	if c.AudioSink != "" {
		return c.AudioSink
	}
	if c.DisableAudio {
		if c.WAVDir != "" {
			return SinkWAV
		}
		return SinkNone
	}
	return SinkSpeaker
}

// Level parses LogLevel
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate reports every invalid value at once
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %w", err))
	}
	switch c.Sink() {
	case SinkSpeaker, SinkNone:
	case SinkWAV:
		if c.WAVDir == "" {
			errs = append(errs, errors.New("wav sink requires a wav directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audio sink %q", c.AudioSink))
	}
	if c.Sink() == SinkSpeaker && c.DisableAudio {
		errs = append(errs, errors.New("speaker sink cannot be used with audio disabled"))
	}
	if !c.Format.Valid() {
		errs = append(errs, fmt.Errorf("unsupported pcm format %+v", c.Format))
	}
	if c.Jitter.Threshold < 1 {
		errs = append(errs, fmt.Errorf("buffer threshold must be at least 1, got %d", c.Jitter.Threshold))
	}
	if c.Jitter.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("max jitter buffer must be positive, got %s", c.Jitter.MaxWait))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, fmt.Errorf("ping interval must be positive, got %s", c.Health.Interval))
	}
	if c.Health.RTTThreshold <= 0 {
		errs = append(errs, fmt.Errorf("rtt threshold must be positive, got %s", c.Health.RTTThreshold))
	}

	return errors.Join(errs...)
}

// Session returns the conversation tunables
func (c *Config) Session() conversation.Config {
	return conversation.Config{
		AgentID:       c.ElevenLabs.AgentID,
		Format:        c.Format,
		Jitter:        c.Jitter,
		Playback:      c.Playback,
		Health:        c.Health,
		MicRetryDelay: c.MicRetryDelay,
	}
}
