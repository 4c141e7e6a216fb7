package webio

import (
	"errors"
	"testing"
	"time"
)

func TestNewDeviceDefaults(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "garage", Host: "192.168.1.50"})

	if d.Address() != "192.168.1.50:49218" {
		t.Errorf("Address() = %q, want 192.168.1.50:49218", d.Address())
	}
	if d.Name() != "garage" {
		t.Errorf("Name() = %q, want id fallback", d.Name())
	}
	if d.Queue().Len() != 0 {
		t.Errorf("new device has %d queued commands", d.Queue().Len())
	}
}

func TestDeviceRequestOutputChange(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1"})

	cmd, err := d.RequestOutputChange(3, ActionPulse, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("RequestOutputChange() error: %v", err)
	}
	if cmd != "output3=pulse-250" {
		t.Errorf("command = %q, want output3=pulse-250", cmd)
	}

	if _, err := d.RequestOutputChange(3, ActionPulse, 0); !errors.Is(err, ErrPulseDuration) {
		t.Errorf("pulse without duration error = %v, want ErrPulseDuration", err)
	}
	if _, err := d.RequestOutputChange(9, ActionOn, 0); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("pin 9 error = %v, want ErrInvalidPin", err)
	}

	if got := d.Queue().Snapshot(); len(got) != 1 || got[0] != "output3=pulse-250" {
		t.Errorf("queue = %v, want only the valid command", got)
	}
}

func TestDeviceRequestOutputChangeQueueFull(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1", QueueSize: 1})
	if _, err := d.RequestOutputChange(1, ActionOn, 0); err != nil {
		t.Fatalf("first request error: %v", err)
	}
	if _, err := d.RequestOutputChange(1, ActionOff, 0); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second request error = %v, want ErrQueueFull", err)
	}
}

func TestDeviceBindOutput(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1"})

	if err := d.BindOutput(0, func(int, bool) {}); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("BindOutput(0) error = %v, want ErrInvalidPin", err)
	}

	called := false
	if err := d.BindOutput(2, func(int, bool) { called = true }); err != nil {
		t.Fatalf("BindOutput(2) error: %v", err)
	}
	if d.BoundOutputs() != 1 {
		t.Errorf("BoundOutputs() = %d, want 1", d.BoundOutputs())
	}

	d.outputHandler(2)(2, true)
	if !called {
		t.Error("bound handler not returned")
	}

	if err := d.BindOutput(2, nil); err != nil {
		t.Fatalf("unbind error: %v", err)
	}
	if d.outputHandler(2) != nil {
		t.Error("handler still bound after unbind")
	}
}

func TestSwitchTurnOnOff(t *testing.T) {
	tests := []struct {
		name      string
		momentary time.Duration
		wantOn    string
	}{
		{name: "latching", wantOn: "output5=on"},
		{name: "momentary", momentary: 750 * time.Millisecond, wantOn: "output5=pulse-750"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1"})
			sw, err := NewSwitch(d, SwitchConfig{Pin: 5, Name: "Gate", Momentary: tt.momentary})
			if err != nil {
				t.Fatalf("NewSwitch() error: %v", err)
			}

			if err := sw.TurnOn(); err != nil {
				t.Fatalf("TurnOn() error: %v", err)
			}
			if err := sw.TurnOff(); err != nil {
				t.Fatalf("TurnOff() error: %v", err)
			}
			if err := sw.Toggle(); err != nil {
				t.Fatalf("Toggle() error: %v", err)
			}

			got := d.Queue().Snapshot()
			want := []string{tt.wantOn, "output5=off", "output5=toggle"}
			if len(got) != len(want) {
				t.Fatalf("queue = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("queue[%d] = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestSwitchStateFollowsBinding(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1"})
	sw, err := NewSwitch(d, SwitchConfig{Pin: 1})
	if err != nil {
		t.Fatalf("NewSwitch() error: %v", err)
	}
	if sw.Name() != "d1 output 1" {
		t.Errorf("Name() = %q, want generated name", sw.Name())
	}

	if _, known := sw.IsOn(); known {
		t.Error("IsOn() known before any report")
	}

	var changes []bool
	sw.SetOnChange(func(on bool) { changes = append(changes, on) })

	d.outputHandler(1)(1, true)
	if on, known := sw.IsOn(); !on || !known {
		t.Errorf("IsOn() = %v, %v, want true, true", on, known)
	}
	d.outputHandler(1)(1, false)
	if len(changes) != 2 || changes[0] != true || changes[1] != false {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}

func TestNewSwitchValidation(t *testing.T) {
	d := NewDevice(DeviceConfig{ID: "d1", Host: "127.0.0.1"})

	if _, err := NewSwitch(d, SwitchConfig{Pin: 9}); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("pin 9 error = %v, want ErrInvalidPin", err)
	}
	if _, err := NewSwitch(d, SwitchConfig{Pin: 1, Momentary: -time.Second}); !errors.Is(err, ErrPulseDuration) {
		t.Errorf("negative momentary error = %v, want ErrPulseDuration", err)
	}
	if _, err := NewSwitch(d, SwitchConfig{Pin: 1, Momentary: time.Microsecond}); !errors.Is(err, ErrPulseDuration) {
		t.Errorf("sub-millisecond momentary error = %v, want ErrPulseDuration", err)
	}
}
