package store

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

const (
	// lockPollInterval bounds each wait for the store lock. The liveness
	// guard is fed between attempts.
	lockPollInterval = 50 * time.Millisecond

	// copyChunkDevices is how many devices are deep-copied between guard
	// feeds.
	copyChunkDevices = 4
)

// acquire takes the store lock, waiting at most lockPollInterval at a time
// so the guard keeps hearing from the waiting goroutine. ctx is only
// honoured while waiting.
func (s *Store) acquire(ctx context.Context, op string) error {
	s.guard.Enter(op)

	if s.lock.TryAcquire(1) {
		return nil
	}

	attempts := 0
	for {
		waitCtx, cancel := context.WithTimeout(ctx, lockPollInterval)
		err := s.lock.Acquire(waitCtx, 1)
		cancel()
		if err == nil {
			s.logger.Debug("store lock acquired after wait", "operation", op, "attempts", attempts)
			return nil
		}
		if ctx.Err() != nil {
			s.guard.Leave(op)
			return fmt.Errorf("waiting for store lock (%s): %w", op, ctx.Err())
		}
		attempts++
		s.guard.Feed()
	}
}

func (s *Store) release(op string) {
	s.lock.Release(1)
	s.guard.Leave(op)
}

// copyConfig deep-copies src a few devices at a time, feeding the guard and
// yielding between chunks. It cannot be interrupted.
func (s *Store) copyConfig(src *device.Config) *device.Config {
	dst := src.CloneHeader()
	dst.Devices = s.copyDevices(src.Devices)
	return dst
}

func (s *Store) copyDevices(src []device.Device) []device.Device {
	if src == nil {
		return nil
	}
	dst := make([]device.Device, len(src))
	for start := 0; start < len(src); start += copyChunkDevices {
		end := min(start+copyChunkDevices, len(src))
		for i := start; i < end; i++ {
			dst[i] = src[i].Clone()
		}
		s.guard.Feed()
		runtime.Gosched()
	}
	return dst
}
