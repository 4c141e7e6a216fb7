package webio

import (
	"fmt"
	"time"
)

// PinCount is the number of inputs and the number of outputs on a device.
const PinCount = 8

// Kind distinguishes input pins from output pins.
type Kind int

const (
	// KindInput is a digital input.
	KindInput Kind = iota

	// KindOutput is a digital output (relay).
	KindOutput
)

// String returns "input" or "output".
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PinEvent is a single pin transition.
type PinEvent struct {
	DeviceID string
	Pin      int
	Kind     Kind
	On       bool
	At       time.Time
}

// bitmask is a last-known mask that starts out unknown.
type bitmask struct {
	value uint16
	known bool
}

// apply stores m and returns one event per pin whose bit differs from the
// stored mask. An unknown mask counts every pin as changed.
func (b *bitmask) apply(kind Kind, m uint16) []PinEvent {
	changed := uint16(0xFFFF)
	if b.known {
		changed = b.value ^ m
	}

	var events []PinEvent
	for pin := 1; pin <= PinCount; pin++ {
		bit := uint16(1) << (pin - 1)
		if changed&bit == 0 {
			continue
		}
		events = append(events, PinEvent{Pin: pin, Kind: kind, On: m&bit != 0})
	}

	b.value = m
	b.known = true
	return events
}

// StateTracker holds the last-known input and output masks of one device.
//
// Not safe for concurrent use; the session loop owns it.
type StateTracker struct {
	inputs  bitmask
	outputs bitmask
}

// ApplyInputMask records a new input mask and returns the resulting events.
func (t *StateTracker) ApplyInputMask(m uint16) []PinEvent {
	return t.inputs.apply(KindInput, m)
}

// ApplyOutputMask records a new output mask and returns the resulting events.
func (t *StateTracker) ApplyOutputMask(m uint16) []PinEvent {
	return t.outputs.apply(KindOutput, m)
}

// Inputs returns the input mask and whether it has been observed.
func (t *StateTracker) Inputs() (uint16, bool) {
	return t.inputs.value, t.inputs.known
}

// Outputs returns the output mask and whether it has been observed.
func (t *StateTracker) Outputs() (uint16, bool) {
	return t.outputs.value, t.outputs.known
}

// Reset forgets both masks.
func (t *StateTracker) Reset() {
	t.inputs = bitmask{}
	t.outputs = bitmask{}
}
