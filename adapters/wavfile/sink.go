package wavfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/domain/repositories"
	"github.com/satriahrh/arunika/convai/internal/codec"
)

// ErrClosed is returned by Play after Close
var ErrClosed = errors.New("wav sink closed")

// Sink is a headless AudioSink. Each batch is optionally written to Dir as
// a WAV file and reported complete after its real-time duration, so the
// gate behaves as if a speaker were attached.
type Sink struct {
	dir    string
	format entities.PCMFormat
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	count  int
	closed bool
}

var _ repositories.AudioSink = (*Sink)(nil)

// New creates a sink. An empty dir discards audio instead of writing it.
func New(dir string, format entities.PCMFormat, clk clock.Clock, logger *zap.Logger) (*Sink, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("unsupported pcm format %+v", format)
	}
	if clk == nil {
		clk = clock.New()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create wav directory: %w", err)
		}
	}

	return &Sink{
		dir:    dir,
		format: format,
		clock:  clk,
		logger: logger,
	}, nil
}

func (s *Sink) Format() entities.PCMFormat {
	return s.format
}

func (s *Sink) Play(pcm []byte, done func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.count++
	n := s.count
	s.mu.Unlock()

	if s.dir != "" {
		path := filepath.Join(s.dir, fmt.Sprintf("utterance-%03d.wav", n))
		if err := s.write(path, pcm); err != nil {
			return err
		}
		s.logger.Debug("Wrote agent audio", zap.String("path", path), zap.Int("bytes", len(pcm)))
	}

	s.clock.AfterFunc(s.format.Duration(len(pcm)), func() { done(nil) })
	return nil
}

func (s *Sink) write(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	if err := codec.WriteWAV(f, pcm, s.format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Played returns how many batches the sink has accepted
func (s *Sink) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
