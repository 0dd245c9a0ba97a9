package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// clearEnv blanks variables the host may set; empty values are ignored
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DISABLE_AUDIO", "CONVAI_AUDIO_SINK", "CONVAI_WAV_DIR",
		"ELEVENLABS_API_KEY", "CONVAI_BUFFER_THRESHOLD", "CONVAI_MAX_JITTER_BUFFER",
		"CONVAI_PING_INTERVAL", "CONVAI_RTT_THRESHOLD", "CONVAI_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, SinkSpeaker, cfg.Sink())
	assert.Equal(t, 2, cfg.Jitter.Threshold)
	assert.Equal(t, 6*time.Second, cfg.Jitter.MaxWait)
	assert.Equal(t, 2*time.Second, cfg.Health.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Health.RTTThreshold)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                      "9090",
		"LOG_LEVEL":                 "debug",
		"DISABLE_AUDIO":             "true",
		"CONVAI_WAV_DIR":            "/tmp/utterances",
		"ELEVENLABS_API_KEY":        "key",
		"AGENT_ID":                  "agent",
		"ELEVENLABS_USE_SIGNED_URL": "1",
		"CONVAI_BUFFER_THRESHOLD":   "4",
		"CONVAI_MAX_JITTER_BUFFER":  "3000",
		"CONVAI_PING_INTERVAL":      "5s",
		"CONVAI_RTT_THRESHOLD":      "250",
		"CONVAI_MIC_COMMAND":        "arecord -q -",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DisableAudio)
	assert.Equal(t, SinkWAV, cfg.Sink())
	assert.Equal(t, "key", cfg.ElevenLabs.APIKey)
	assert.Equal(t, "agent", cfg.ElevenLabs.AgentID)
	assert.True(t, cfg.ElevenLabs.UseSignedURL)
	assert.Equal(t, 4, cfg.Jitter.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Jitter.MaxWait)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Health.RTTThreshold)
	assert.Equal(t, []string{"arecord", "-q", "-"}, cfg.Microphone.Command)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	session := cfg.Session()
	assert.Equal(t, "agent", session.AgentID)
	assert.Equal(t, 4, session.Jitter.Threshold)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                 "eighty",
		"DISABLE_AUDIO":        "maybe",
		"CONVAI_PING_INTERVAL": "often",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "DISABLE_AUDIO")
	assert.Contains(t, err.Error(), "CONVAI_PING_INTERVAL")
}

func TestSink(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "audio enabled", cfg: Config{}, want: SinkSpeaker},
		{name: "audio disabled", cfg: Config{DisableAudio: true}, want: SinkNone},
		{name: "audio disabled with wav dir", cfg: Config{DisableAudio: true, WAVDir: "out"}, want: SinkWAV},
		{name: "explicit", cfg: Config{AudioSink: SinkNone}, want: SinkNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Sink())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "unknown sink", mutate: func(c *Config) { c.AudioSink = "tape" }},
		{name: "wav without dir", mutate: func(c *Config) { c.AudioSink = SinkWAV }},
		{name: "speaker with audio disabled", mutate: func(c *Config) { c.DisableAudio = true; c.AudioSink = SinkSpeaker }},
		{name: "zero threshold", mutate: func(c *Config) { c.Jitter.Threshold = 0 }},
		{name: "zero ping interval", mutate: func(c *Config) { c.Health.Interval = 0 }},
		{name: "bad format", mutate: func(c *Config) { c.Format.BitDepth = 12 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convai.yaml")
	yamlConfig := `
port: 7000
log_level: warn
audio_sink: none
elevenlabs:
  api_key: from-file
  agent_id: file-agent
jitter:
  threshold: 3
  max_wait: 1500ms
health:
  interval: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	clearEnv(t)
	t.Setenv("AGENT_ID", "env-agent")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, SinkNone, cfg.Sink())
	assert.Equal(t, "from-file", cfg.ElevenLabs.APIKey)
	assert.Equal(t, "env-agent", cfg.ElevenLabs.AgentID)
	assert.Equal(t, 3, cfg.Jitter.Threshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Jitter.MaxWait)
	assert.Equal(t, time.Second, cfg.Health.Interval)
	// untouched fields keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Health.RTTThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
