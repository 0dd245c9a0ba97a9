package audio

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain/entities"
)

const (
	// DefaultBufferThreshold is the number of chunks that triggers playback
	DefaultBufferThreshold = 2
	// DefaultMaxJitterBuffer bounds how long a short batch may wait
	DefaultMaxJitterBuffer = 6000 * time.Millisecond
)

// JitterConfig configures a JitterBuffer
type JitterConfig struct {
	Threshold int           `yaml:"threshold"`
	MaxWait   time.Duration `yaml:"max_wait"`
}

// JitterBuffer accumulates decoded agent audio into batches so playback is
// not fed one network chunk at a time. A batch is handed over when it
// reaches the threshold, when its oldest chunk has waited MaxWait, on an
// explicit Flush, or when the player finishes and finds chunks waiting.
// Chunks arriving while the player is busy join the same pending batch.
type JitterBuffer struct {
	mu        sync.Mutex
	pending   []entities.AudioChunk
	threshold int
	maxWait   time.Duration

	timer    *clock.Timer
	timerGen uint64

	onAccept func()
	player   *PlaybackController

	clock  clock.Clock
	logger *zap.Logger
}

// NewJitterBuffer creates a jitter buffer. A nil clock uses the wall clock.
func NewJitterBuffer(cfg JitterConfig, clk clock.Clock, logger *zap.Logger) *JitterBuffer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBufferThreshold
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxJitterBuffer
	}
	if clk == nil {
		clk = clock.New()
	}
	return &JitterBuffer{
		threshold: cfg.Threshold,
		maxWait:   cfg.MaxWait,
		clock:     clk,
		logger:    logger,
	}
}

// OnAccept registers fn to run in the same critical section that accepts a
// chunk. It must not call back into the buffer. Set it before the first Push.
func (b *JitterBuffer) OnAccept(fn func()) {
	b.onAccept = fn
}

// Push adds a chunk to the pending batch
func (b *JitterBuffer) Push(chunk entities.AudioChunk) {
	b.mu.Lock()
	b.pending = append(b.pending, chunk)
	if len(b.pending) == 1 {
		b.armLocked()
	}
	if b.onAccept != nil {
		b.onAccept()
	}
	ready := len(b.pending) >= b.threshold
	b.mu.Unlock()

	if ready {
		b.flush("threshold")
	}
}

// Flush hands whatever is pending to the player. It is the end-of-utterance
// signal and does nothing while the player is busy.
func (b *JitterBuffer) Flush() bool {
	if b.Pending() == 0 {
		return false
	}
	return b.flush("explicit")
}

// Pending returns the number of chunks waiting for playback
func (b *JitterBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset drops the pending batch and disarms the wait timer
func (b *JitterBuffer) Reset() {
	b.mu.Lock()
	dropped := len(b.pending)
	b.pending = nil
	b.disarmLocked()
	b.mu.Unlock()

	if dropped > 0 {
		b.logger.Debug("Dropped pending audio", zap.Int("chunks", dropped))
	}
	if b.player != nil {
		b.player.settle()
	}
}

// drain starts the next playback cycle when chunks piled up during the
// previous one, regardless of the threshold.
func (b *JitterBuffer) drain() bool {
	if b.Pending() == 0 {
		return false
	}
	return b.flush("drain")
}

func (b *JitterBuffer) flush(reason string) bool {
	if b.player == nil || !b.player.acquire() {
		return false
	}

	batch := b.take()
	if len(batch) == 0 {
		b.player.abandon()
		return false
	}

	b.logger.Debug("Flushing jitter buffer",
		zap.String("reason", reason),
		zap.Int("chunks", len(batch)))

	b.player.play(batch)
	return true
}

// take removes the pending batch, sorted by capture time
func (b *JitterBuffer) take() []entities.AudioChunk {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.disarmLocked()
	b.mu.Unlock()

	slices.SortStableFunc(batch, func(x, y entities.AudioChunk) int {
		switch {
		case x.Before(y):
			return -1
		case y.Before(x):
			return 1
		default:
			return 0
		}
	})
	return batch
}

func (b *JitterBuffer) armLocked() {
	b.disarmLocked()
	gen := b.timerGen
	b.timer = b.clock.AfterFunc(b.maxWait, func() {
		b.expire(gen)
	})
}

func (b *JitterBuffer) disarmLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}

func (b *JitterBuffer) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.timerGen || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	n := len(b.pending)
	b.mu.Unlock()

	b.logger.Debug("Jitter buffer wait elapsed", zap.Int("chunks", n), zap.Duration("maxWait", b.maxWait))
	b.flush("max_wait")
}
