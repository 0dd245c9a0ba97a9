package conversation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain"
	"github.com/satriahrh/arunika/convai/domain/repositories"
)

var errStreamEnded = errors.New("microphone stream ended")

// runMicrophone keeps the capture stream alive for the lifetime of ctx.
// Transient failures are retried after MicRetryDelay; a missing device or
// refused permission ends capture for this connection.
func (s *Session) runMicrophone(ctx context.Context) {
	defer s.micWG.Done()

	for {
		err := s.mic.Capture(ctx, s.cfg.Format, s.transmit)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamEnded
		}

		devErr := &domain.DeviceError{
			Err:       err,
			Permanent: errors.Is(err, repositories.ErrDeviceUnavailable) || errors.Is(err, repositories.ErrDevicePermission),
		}
		s.emit(Event{Type: EventError, Err: devErr})

		if devErr.Permanent {
			s.logger.Error("Microphone unavailable", zap.Error(devErr))
			return
		}

		s.logger.Warn("Microphone stream failed, retrying",
			zap.Error(devErr),
			zap.Duration("retryIn", s.cfg.MicRetryDelay))

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.MicRetryDelay):
		}
	}
}
