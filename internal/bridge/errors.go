package bridge

import (
	"errors"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

// ErrUnknownDevice is returned when a command names a device the bridge
// does not manage.
var ErrUnknownDevice = errors.New("bridge: unknown device")

// Error codes carried in acks and API error bodies.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps a submission error to its ack code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, webio.ErrInvalidAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, webio.ErrInvalidPin), errors.Is(err, webio.ErrPulseDuration):
		return ErrCodeInvalidParameters
	case errors.Is(err, webio.ErrQueueFull):
		return ErrCodeQueueFull
	default:
		return ErrCodeBridgeError
	}
}
