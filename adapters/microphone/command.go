package microphone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/domain/repositories"
)

const (
	defaultFrameDuration = 100 * time.Millisecond
	stderrLimit          = 4096
)

// Config holds configuration for the command microphone
// Optional fields with defaults:
// - Command: capture command writing raw PCM to stdout (default: arecord on linux, sox elsewhere)
// - FrameDuration: audio delivered per callback (default: 100ms)
type Config struct {
	Command       []string      `yaml:"command"`
	FrameDuration time.Duration `yaml:"frame_duration"`
}

// Command captures audio by running a recorder as a child process
type Command struct {
	command       []string
	frameDuration time.Duration
	logger        *zap.Logger
}

var _ repositories.Microphone = (*Command)(nil)

// New creates a command microphone
func New(config Config, logger *zap.Logger) *Command {
	frameDuration := config.FrameDuration
	if frameDuration <= 0 {
		frameDuration = defaultFrameDuration
		logger.Info("Using default frame duration", zap.Duration("frameDuration", frameDuration))
	}

	return &Command{
		command:       config.Command,
		frameDuration: frameDuration,
		logger:        logger,
	}
}

// DefaultCommand returns the recorder invocation for this platform
func DefaultCommand(goos string, format entities.PCMFormat) []string {
	rate := strconv.Itoa(format.SampleRate)
	channels := strconv.Itoa(format.Channels)
	bits := strconv.Itoa(format.BitDepth)

	if goos == "linux" {
		return []string{"arecord", "-q", "-t", "raw", "-f", "S" + bits + "_LE", "-r", rate, "-c", channels, "-"}
	}
	return []string{"sox", "-q", "-d", "-t", "raw", "-e", "signed-integer", "-b", bits, "-r", rate, "-c", channels, "-"}
}

// Capture runs the recorder until ctx is cancelled or it exits
func (m *Command) Capture(ctx context.Context, format entities.PCMFormat, onFrame func([]byte)) error {
	if !format.Valid() {
		return fmt.Errorf("unsupported pcm format %+v", format)
	}

	args := m.command
	if len(args) == 0 {
		args = DefaultCommand(runtime.GOOS, format)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open capture pipe: %w", err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("capture tool %q not found: %w", args[0], repositories.ErrDeviceUnavailable)
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}

	m.logger.Info("Microphone started", zap.String("command", args[0]))

	frameSize := format.BytesInDuration(m.frameDuration)
	if frameSize <= 0 {
		frameSize = format.BytesPerSample()
	}

	readErr := m.pump(stdout, frameSize, onFrame)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}

	if msg := strings.ToLower(stderr.String()); strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted") {
		return fmt.Errorf("capture refused: %s: %w", strings.TrimSpace(stderr.String()), repositories.ErrDevicePermission)
	}
	if waitErr != nil {
		return fmt.Errorf("capture exited: %w", waitErr)
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return fmt.Errorf("failed to read capture stream: %w", readErr)
	}
	return fmt.Errorf("capture stream ended")
}

func (m *Command) pump(r io.Reader, frameSize int, onFrame func([]byte)) error {
	buf := make([]byte, frameSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			onFrame(frame)
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}
	}
}

// limitedBuffer keeps the first limit bytes written to it
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
