package webio

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// OutputHandler receives output pin changes for a bound pin.
type OutputHandler func(pin int, on bool)

// DeviceConfig identifies one controller.
type DeviceConfig struct {
	// ID is the stable identifier used in topics and URLs.
	ID string

	// Name is the display name used in logs.
	Name string

	// Host is the controller's hostname or IP address.
	Host string

	// Port defaults to DefaultPort.
	Port int

	// QueueSize caps pending caller commands. Default: 64.
	QueueSize int
}

// Device is one Web-IO controller: its address, command queue and output
// pin bindings. Creating a Device does no network I/O; a Session drives it.
type Device struct {
	id   string
	name string
	host string
	port int

	queue *CommandQueue

	outputs   map[int]OutputHandler
	outputsMu sync.RWMutex
}

// NewDevice creates a device from cfg.
func NewDevice(cfg DeviceConfig) *Device {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return &Device{
		id:      cfg.ID,
		name:    name,
		host:    cfg.Host,
		port:    port,
		queue:   NewCommandQueue(cfg.QueueSize),
		outputs: make(map[int]OutputHandler),
	}
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// Address returns host:port.
func (d *Device) Address() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

// Queue returns the device's command queue.
func (d *Device) Queue() *CommandQueue { return d.queue }

// BindOutput registers handler for changes of output pin. Binding again
// replaces the previous handler; a nil handler unbinds the pin.
func (d *Device) BindOutput(pin int, handler OutputHandler) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}

	d.outputsMu.Lock()
	defer d.outputsMu.Unlock()

	if handler == nil {
		delete(d.outputs, pin)
		return nil
	}
	d.outputs[pin] = handler
	return nil
}

// outputHandler returns the handler bound to pin, if any.
func (d *Device) outputHandler(pin int) OutputHandler {
	d.outputsMu.RLock()
	defer d.outputsMu.RUnlock()
	return d.outputs[pin]
}

// BoundOutputs returns the number of bound output pins.
func (d *Device) BoundOutputs() int {
	d.outputsMu.RLock()
	defer d.outputsMu.RUnlock()
	return len(d.outputs)
}

// RequestOutputChange validates the request and queues the output command.
// The pulse duration is only used by ActionPulse. The returned string is the
// queued command line.
func (d *Device) RequestOutputChange(pin int, action Action, pulse time.Duration) (string, error) {
	cmd, err := OutputCommand(pin, action, pulse)
	if err != nil {
		return "", err
	}
	if err := d.queue.Push(cmd); err != nil {
		return "", fmt.Errorf("device %s: %w", d.id, err)
	}
	return cmd, nil
}
