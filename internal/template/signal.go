package template

import (
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// SignalEvent is the outcome of one heartbeat tick.
type SignalEvent int

// Signal timer events.
const (
	SignalNone SignalEvent = iota

	// SignalStart is emitted on the first tick of a hold.
	SignalStart

	// SignalStop is emitted when the gap since the previous tick exceeded the
	// heartbeat timeout. Accumulated time is discarded.
	SignalStop

	// SignalCompleted is emitted once per hold, when the accumulated time
	// reaches the required duration.
	SignalCompleted
)

// String returns the event name used in logs.
func (e SignalEvent) String() string {
	switch e {
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	case SignalCompleted:
		return "completed"
	default:
		return "none"
	}
}

// SignalResult describes a HandleTick call.
type SignalResult struct {
	Event         SignalEvent
	AccumulatedMS uint32
}

// SignalTimer is the hold-timer state machine for one signal template.
//
// States are idle and holding. A completed hold returns to idle, so the next
// heartbeat begins a new hold with a cleared completion guard.
type SignalTimer struct {
	requiredMS uint32
	timeoutMS  uint32

	holding     bool
	lastTickMS  uint64
	accumulated uint32
	signalSent  bool
}

// NewSignalTimer builds a timer from tpl.
func NewSignalTimer(tpl *device.SignalTemplate) (*SignalTimer, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil signal template", device.ErrInvalidArgument)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &SignalTimer{
		requiredMS: tpl.RequiredHoldMS,
		timeoutMS:  tpl.HeartbeatTimeoutMS,
	}, nil
}

// HandleTick advances the timer with a heartbeat observed at nowMS.
//
// A zero heartbeat timeout disables discontinuity detection. Timestamps
// that go backwards count as a zero gap.
func (s *SignalTimer) HandleTick(nowMS uint64) SignalResult {
	if !s.holding {
		s.holding = true
		s.lastTickMS = nowMS
		s.accumulated = 0
		s.signalSent = false
		return SignalResult{Event: SignalStart}
	}

	var gap uint64
	if nowMS > s.lastTickMS {
		gap = nowMS - s.lastTickMS
	}
	s.lastTickMS = nowMS

	if s.timeoutMS > 0 && gap > uint64(s.timeoutMS) {
		s.holding = false
		s.accumulated = 0
		return SignalResult{Event: SignalStop}
	}

	s.accumulated = addSaturating(s.accumulated, gap)

	if s.accumulated >= s.requiredMS && !s.signalSent {
		s.signalSent = true
		s.holding = false
		return SignalResult{Event: SignalCompleted, AccumulatedMS: s.accumulated}
	}
	return SignalResult{Event: SignalNone, AccumulatedMS: s.accumulated}
}

// Holding reports whether a hold is in progress.
func (s *SignalTimer) Holding() bool {
	return s.holding
}

// AccumulatedMS returns the hold time accumulated so far.
func (s *SignalTimer) AccumulatedMS() uint32 {
	return s.accumulated
}

// Reset returns the timer to idle.
func (s *SignalTimer) Reset() {
	s.holding = false
	s.accumulated = 0
	s.signalSent = false
	s.lastTickMS = 0
}

func addSaturating(acc uint32, gap uint64) uint32 {
	sum := uint64(acc) + gap
	if sum > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(sum)
}
