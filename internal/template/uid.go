package template

import (
	"fmt"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// UIDEvent is the outcome of feeding one value to a UIDValidator.
type UIDEvent int

// UID validator events.
const (
	// UIDNone means the value was ignored: unknown source, or the round is
	// already failed or complete.
	UIDNone UIDEvent = iota

	// UIDAccepted means a slot became satisfied.
	UIDAccepted

	// UIDDuplicate means the value matched a slot that was already satisfied.
	UIDDuplicate

	// UIDInvalid means the value is not in the slot's allowed set. The round
	// is failed until Reset.
	UIDInvalid

	// UIDSuccess means the value was accepted and completed the round.
	UIDSuccess
)

// String returns the event name used in logs.
func (e UIDEvent) String() string {
	switch e {
	case UIDAccepted:
		return "accepted"
	case UIDDuplicate:
		return "duplicate"
	case UIDInvalid:
		return "invalid"
	case UIDSuccess:
		return "success"
	default:
		return "none"
	}
}

// Terminal reports whether the event ends a validation round.
func (e UIDEvent) Terminal() bool {
	return e == UIDSuccess || e == UIDInvalid
}

// UIDResult describes a HandleValue call.
type UIDResult struct {
	Event UIDEvent

	// Slot is the index of the matched slot, or -1.
	Slot int
}

// SlotSnapshot is the runtime view of one slot.
type SlotSnapshot struct {
	SourceID  string
	Label     string
	Satisfied bool
	HasValue  bool
	LastValue string
}

// UIDValidator is the state machine for one UID template.
//
// Per slot the state is unsatisfied or satisfied; the aggregate is in
// progress, failed or complete. Failed and complete are terminal until
// Reset. Once failed, further values are ignored silently.
type UIDValidator struct {
	slots     []device.UIDSlot
	satisfied uint8 // bitmap, one bit per slot
	count     int
	failed    bool
	lastValue []string
	hasValue  []bool
}

// NewUIDValidator builds a validator from the populated slots of tpl.
//
// Returns an error wrapping device.ErrInvalidArgument if the template has no
// populated slot.
func NewUIDValidator(tpl *device.UIDTemplate) (*UIDValidator, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil uid template", device.ErrInvalidArgument)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	own, _ := tpl.Clone().(*device.UIDTemplate)
	slots := own.PopulatedSlots()
	return &UIDValidator{
		slots:     slots,
		lastValue: make([]string, len(slots)),
		hasValue:  make([]bool, len(slots)),
	}, nil
}

// HandleValue feeds a value received on sourceID.
//
// When several slots listen on the same source, the value goes to the first
// unsatisfied slot that accepts it.
func (v *UIDValidator) HandleValue(sourceID, value string) UIDResult {
	if v.failed || v.IsComplete() {
		return UIDResult{Event: UIDNone, Slot: -1}
	}

	matched, duplicate := -1, -1
	for i := range v.slots {
		s := &v.slots[i]
		if s.SourceID != sourceID {
			continue
		}
		if matched < 0 {
			matched = i
		}
		if !s.Accepts(value) {
			continue
		}
		if v.isSatisfied(i) {
			if duplicate < 0 {
				duplicate = i
			}
			continue
		}

		v.satisfied |= 1 << uint(i)
		v.count++
		v.record(i, value)
		if v.IsComplete() {
			return UIDResult{Event: UIDSuccess, Slot: i}
		}
		return UIDResult{Event: UIDAccepted, Slot: i}
	}

	switch {
	case duplicate >= 0:
		v.record(duplicate, value)
		return UIDResult{Event: UIDDuplicate, Slot: duplicate}
	case matched >= 0:
		v.failed = true
		v.record(matched, value)
		return UIDResult{Event: UIDInvalid, Slot: matched}
	default:
		return UIDResult{Event: UIDNone, Slot: -1}
	}
}

// Listens reports whether any slot's source id equals topic.
func (v *UIDValidator) Listens(topic string) bool {
	for i := range v.slots {
		if v.slots[i].SourceID == topic {
			return true
		}
	}
	return false
}

// Sources returns the distinct source ids in slot order.
func (v *UIDValidator) Sources() []string {
	out := make([]string, 0, len(v.slots))
	seen := make(map[string]struct{}, len(v.slots))
	for _, s := range v.slots {
		if _, ok := seen[s.SourceID]; ok {
			continue
		}
		seen[s.SourceID] = struct{}{}
		out = append(out, s.SourceID)
	}
	return out
}

// IsComplete is true once every slot is satisfied.
func (v *UIDValidator) IsComplete() bool {
	return v.count == len(v.slots)
}

// Failed reports whether the round has failed.
func (v *UIDValidator) Failed() bool {
	return v.failed
}

// SatisfiedCount returns the number of satisfied slots.
func (v *UIDValidator) SatisfiedCount() int {
	return v.count
}

// Reset starts a new validation round. Last values are kept for Snapshot.
func (v *UIDValidator) Reset() {
	v.satisfied = 0
	v.count = 0
	v.failed = false
}

// Snapshot returns the runtime view of every slot.
func (v *UIDValidator) Snapshot() []SlotSnapshot {
	out := make([]SlotSnapshot, len(v.slots))
	for i, s := range v.slots {
		out[i] = SlotSnapshot{
			SourceID:  s.SourceID,
			Label:     s.Label,
			Satisfied: v.isSatisfied(i),
			HasValue:  v.hasValue[i],
			LastValue: v.lastValue[i],
		}
	}
	return out
}

func (v *UIDValidator) isSatisfied(i int) bool {
	return v.satisfied&(1<<uint(i)) != 0
}

func (v *UIDValidator) record(i int, value string) {
	v.lastValue[i] = value
	v.hasValue[i] = true
}
