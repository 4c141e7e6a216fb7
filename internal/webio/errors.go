package webio

import "errors"

// Domain errors for the webio package.
var (
	// ErrConnectionFailed is returned when the TCP connection to a device
	// cannot be established.
	ErrConnectionFailed = errors.New("webio: connection to device failed")

	// ErrTransport is returned when a send or receive fails on an
	// established connection.
	ErrTransport = errors.New("webio: transport error")

	// ErrNotConnected is returned when an operation needs an open transport.
	ErrNotConnected = errors.New("webio: not connected")

	// ErrRejected is returned when the device answers a command with ERROR.
	ErrRejected = errors.New("webio: command rejected by device")

	// ErrProtocolTimeout is returned when no OK or ERROR arrives within the
	// attempt budget.
	ErrProtocolTimeout = errors.New("webio: no response from device")

	// ErrInvalidPin is returned for pin numbers outside 1..8.
	ErrInvalidPin = errors.New("webio: invalid pin")

	// ErrInvalidAction is returned for unknown output actions.
	ErrInvalidAction = errors.New("webio: invalid action")

	// ErrPulseDuration is returned when a pulse is requested without a
	// positive duration.
	ErrPulseDuration = errors.New("webio: pulse requires a positive duration")

	// ErrQueueFull is returned when the command queue is at capacity.
	ErrQueueFull = errors.New("webio: command queue full")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("webio: session already started")
)

// errStopping aborts a command write when Stop is called mid-response.
var errStopping = errors.New("webio: session stopping")
