package webio

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SwitchConfig describes one output exposed as a switch.
type SwitchConfig struct {
	Pin  int
	Name string

	// Momentary makes TurnOn send a pulse of this length instead of "on".
	// Zero means a latching switch.
	Momentary time.Duration
}

// Switch is an output pin with on/off semantics. Its state follows the
// device's output mask through the pin binding.
type Switch struct {
	device    *Device
	pin       int
	name      string
	momentary time.Duration

	mu       sync.RWMutex
	on       bool
	known    bool
	onChange func(on bool)
}

// NewSwitch binds a switch to cfg.Pin on device.
func NewSwitch(device *Device, cfg SwitchConfig) (*Switch, error) {
	if err := ValidatePin(cfg.Pin); err != nil {
		return nil, err
	}
	if cfg.Momentary < 0 {
		return nil, fmt.Errorf("%w: momentary %s", ErrPulseDuration, cfg.Momentary)
	}
	if cfg.Momentary > 0 && cfg.Momentary < time.Millisecond {
		return nil, fmt.Errorf("%w: momentary %s below 1ms", ErrPulseDuration, cfg.Momentary)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = fmt.Sprintf("%s output %d", device.Name(), cfg.Pin)
	}

	s := &Switch{
		device:    device,
		pin:       cfg.Pin,
		name:      name,
		momentary: cfg.Momentary,
	}
	if err := device.BindOutput(cfg.Pin, s.update); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the switch's display name.
func (s *Switch) Name() string { return s.name }

// Pin returns the output pin.
func (s *Switch) Pin() int { return s.pin }

// Momentary returns the pulse length used by TurnOn, or zero.
func (s *Switch) Momentary() time.Duration { return s.momentary }

// TurnOn pulses a momentary switch, otherwise switches the output on.
func (s *Switch) TurnOn() error {
	if s.momentary > 0 {
		_, err := s.device.RequestOutputChange(s.pin, ActionPulse, s.momentary)
		return err
	}
	_, err := s.device.RequestOutputChange(s.pin, ActionOn, 0)
	return err
}

// TurnOff switches the output off.
func (s *Switch) TurnOff() error {
	_, err := s.device.RequestOutputChange(s.pin, ActionOff, 0)
	return err
}

// Toggle inverts the output.
func (s *Switch) Toggle() error {
	_, err := s.device.RequestOutputChange(s.pin, ActionToggle, 0)
	return err
}

// IsOn returns the last reported state and whether any state has been seen.
func (s *Switch) IsOn() (on, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on, s.known
}

// SetOnChange registers a listener called when the reported state changes.
func (s *Switch) SetOnChange(fn func(on bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// update is the OutputHandler bound to the switch's pin.
func (s *Switch) update(_ int, on bool) {
	s.mu.Lock()
	changed := !s.known || s.on != on
	s.on = on
	s.known = true
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn(on)
	}
}
