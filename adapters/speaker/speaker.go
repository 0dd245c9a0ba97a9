package speaker

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hajimehoshi/oto/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/domain/repositories"
)

const pollInterval = 10 * time.Millisecond

// ErrClosed is returned by Play after Close
var ErrClosed = errors.New("speaker closed")

// Speaker plays PCM on the default output device
type Speaker struct {
	ctx    *oto.Context
	format entities.PCMFormat
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	players sync.WaitGroup
}

var _ repositories.AudioSink = (*Speaker)(nil)

// New opens the output device. Only one Speaker may exist per process.
func New(format entities.PCMFormat, clk clock.Clock, logger *zap.Logger) (*Speaker, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("unsupported pcm format %+v", format)
	}
	if clk == nil {
		clk = clock.New()
	}

	ctx, ready, err := oto.NewContext(format.SampleRate, format.Channels, format.BitDepth/8)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %v: %w", err, repositories.ErrDeviceUnavailable)
	}
	<-ready

	logger.Info("Speaker ready",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels))

	return &Speaker{
		ctx:    ctx,
		format: format,
		clock:  clk,
		logger: logger,
	}, nil
}

func (s *Speaker) Format() entities.PCMFormat {
	return s.format
}

// Play starts pcm on a fresh player and reports completion once the
// device has drained it.
func (s *Speaker) Play(pcm []byte, done func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("audio output failed: %w", err)
	}

	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	s.players.Add(1)
	go s.track(player, done)
	return nil
}

func (s *Speaker) track(player oto.Player, done func(error)) {
	defer s.players.Done()

	ticker := s.clock.Ticker(pollInterval)
	defer ticker.Stop()

	for player.IsPlaying() {
		<-ticker.C
	}

	err := player.Err()
	if cerr := player.Close(); err == nil {
		err = cerr
	}
	done(err)
}

// Close waits for in-flight players to finish and suspends the device.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.players.Wait()
	return s.ctx.Suspend()
}
