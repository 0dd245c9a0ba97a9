package audio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain"
	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/domain/repositories"
)

// DefaultPlaybackGrace is added to a batch's audio duration before the
// watchdog gives up on the sink.
const DefaultPlaybackGrace = 2 * time.Second

// PlaybackState represents whether the controller is feeding the sink
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackPlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// PlaybackConfig configures a PlaybackController
type PlaybackConfig struct {
	Grace time.Duration `yaml:"grace"`
}

// PlaybackController plays one batch at a time through an AudioSink and
// holds the microphone gate closed until the agent has finished talking.
type PlaybackController struct {
	mu         sync.Mutex
	state      PlaybackState
	generation uint64
	announced  bool
	startedAt  time.Time
	watchdog   *clock.Timer
	played     int64
	failed     int64

	sink   repositories.AudioSink
	gate   *Gate
	buffer *JitterBuffer
	grace  time.Duration

	onStateChange func(PlaybackState)

	clock  clock.Clock
	logger *zap.Logger
}

// NewPlaybackController wires a controller between buffer and sink. The
// buffer hands batches to the returned controller from then on.
func NewPlaybackController(cfg PlaybackConfig, sink repositories.AudioSink, gate *Gate, buffer *JitterBuffer, clk clock.Clock, logger *zap.Logger) *PlaybackController {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultPlaybackGrace
	}
	if clk == nil {
		clk = clock.New()
	}
	c := &PlaybackController{
		sink:   sink,
		gate:   gate,
		buffer: buffer,
		grace:  cfg.Grace,
		clock:  clk,
		logger: logger,
	}
	buffer.player = c
	return c
}

// OnStateChange registers fn to be told when the agent starts and stops
// speaking. Consecutive batches of one utterance report a single start.
// Set it before audio flows.
func (c *PlaybackController) OnStateChange(fn func(PlaybackState)) {
	c.onStateChange = fn
}

// State returns the current playback state
func (c *PlaybackController) State() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the number of batches played and failed
func (c *PlaybackController) Stats() (played, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.played, c.failed
}

// acquire moves idle to playing. Only one caller wins.
func (c *PlaybackController) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != PlaybackIdle {
		return false
	}
	c.state = PlaybackPlaying
	c.generation++
	return true
}

// abandon undoes an acquire that found nothing to play. A Reset that ran
// while the acquire was held could not settle, so settle here.
func (c *PlaybackController) abandon() {
	c.mu.Lock()
	c.state = PlaybackIdle
	c.mu.Unlock()

	c.settle()
}

func (c *PlaybackController) play(batch []entities.AudioChunk) {
	size := 0
	for _, chunk := range batch {
		size += len(chunk.Data)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range batch {
		pcm = append(pcm, chunk.Data...)
	}

	limit := c.sink.Format().Duration(len(pcm)) + c.grace

	c.mu.Lock()
	gen := c.generation
	c.startedAt = c.clock.Now()
	c.watchdog = c.clock.AfterFunc(limit, func() {
		c.complete(gen, len(pcm), domain.ErrPlaybackStalled)
	})
	announce := !c.announced
	c.announced = true
	c.mu.Unlock()

	c.gate.SetSpeaking(true)
	if announce {
		c.notify(PlaybackPlaying)
	}

	c.logger.Debug("Playing audio batch",
		zap.Int("chunks", len(batch)),
		zap.Int("bytes", len(pcm)))

	err := c.sink.Play(pcm, func(err error) {
		c.complete(gen, len(pcm), err)
	})
	if err != nil {
		c.complete(gen, len(pcm), err)
	}
}

// complete ends the cycle identified by gen. Late or duplicate reports for
// a cycle that already ended are ignored.
func (c *PlaybackController) complete(gen uint64, size int, err error) {
	c.mu.Lock()
	if c.state != PlaybackPlaying || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = PlaybackIdle
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	elapsed := c.clock.Since(c.startedAt)
	if err != nil {
		c.failed++
	} else {
		c.played++
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Discarding audio batch",
			zap.Error(&domain.PlaybackError{Bytes: size, Err: err}),
			zap.Duration("elapsed", elapsed))
	}

	if c.buffer.drain() {
		return
	}
	c.settle()
}

// settle reopens the gate once nothing is playing or queued
func (c *PlaybackController) settle() {
	c.buffer.mu.Lock()
	c.mu.Lock()
	quiet := len(c.buffer.pending) == 0 && c.state == PlaybackIdle
	announce := quiet && c.announced
	if quiet {
		c.announced = false
		c.gate.SetSpeaking(false)
	}
	c.mu.Unlock()
	c.buffer.mu.Unlock()

	if announce {
		c.notify(PlaybackIdle)
	}
}

func (c *PlaybackController) notify(state PlaybackState) {
	if c.onStateChange != nil {
		c.onStateChange(state)
	}
}
