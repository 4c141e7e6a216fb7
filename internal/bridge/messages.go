package bridge

import (
	"time"

	"github.com/nerrad567/webio-bridge/internal/webio"
)

// CommandMessage is received on webio/command/{device}/{pin}.
type CommandMessage struct {
	// ID correlates the ack. A UUID is assigned when empty.
	ID string `json:"id"`

	// Action is on, off, toggle or pulse.
	Action string `json:"action"`

	// DurationMS is the pulse length; required for pulse, ignored otherwise.
	DurationMS int `json:"duration_ms,omitempty"`

	// Source names the originator (defaults to "mqtt").
	Source string `json:"source,omitempty"`
}

// AckStatus is the acknowledgement status of a command.
type AckStatus string

const (
	// AckQueued means the command was accepted into the device queue.
	AckQueued AckStatus = "queued"

	// AckFailed means the command was refused before queuing.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on webio/ack/{device}/{pin}.
//
// A queued ack only means the command is waiting its turn; the device's
// own OK/ERROR is reported through state changes and the command log.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Pin       int       `json:"pin"`
	Status    AckStatus `json:"status"`
	Command   string    `json:"command,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is published retained on webio/state/{device}/{kind}/{pin}.
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Pin       int       `json:"pin"`
	Kind      string    `json:"kind"`
	On        bool      `json:"on"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on webio/health/{bridge}.
type HealthMessage struct {
	Bridge        string        `json:"bridge"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        HealthStatus  `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Devices       []webio.Stats `json:"devices"`
	Reason        string        `json:"reason,omitempty"`
}

// NewStateMessage builds the state payload for a pin event.
func NewStateMessage(ev webio.PinEvent) StateMessage {
	return StateMessage{
		DeviceID:  ev.DeviceID,
		Pin:       ev.Pin,
		Kind:      ev.Kind.String(),
		On:        ev.On,
		Timestamp: ev.At.UTC(),
	}
}

func newQueuedAck(sub Submission) AckMessage {
	return AckMessage{
		CommandID: sub.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  sub.DeviceID,
		Pin:       sub.Pin,
		Status:    AckQueued,
		Command:   sub.Command,
	}
}

func newFailedAck(commandID, deviceID string, pin int, err error) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Pin:       pin,
		Status:    AckFailed,
		Error: &AckError{
			Code:    ErrorCode(err),
			Message: err.Error(),
		},
	}
}
