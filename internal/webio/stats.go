package webio

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of a session.
type Stats struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	State    string `json:"state"`

	Connected      bool       `json:"connected"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`

	// Masks are nil until the device has reported them.
	Inputs  *uint16 `json:"inputs,omitempty"`
	Outputs *uint16 `json:"outputs,omitempty"`

	QueueDepth int `json:"queue_depth"`

	CommandsSent     uint64 `json:"commands_sent"`
	CommandsAcked    uint64 `json:"commands_acked"`
	CommandsRejected uint64 `json:"commands_rejected"`
	CommandsTimedOut uint64 `json:"commands_timed_out"`
	ConnectAttempts  uint64 `json:"connect_attempts"`
	ConnectFailures  uint64 `json:"connect_failures"`
	Reconnects       uint64 `json:"reconnects"`
	TransportErrors  uint64 `json:"transport_errors"`
	BytesRx          uint64 `json:"bytes_rx"`
	EventsEmitted    uint64 `json:"events_emitted"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// sessionCounters are the atomic counters behind Stats.
type sessionCounters struct {
	commandsSent     atomic.Uint64
	commandsAcked    atomic.Uint64
	commandsRejected atomic.Uint64
	commandsTimedOut atomic.Uint64
	connectAttempts  atomic.Uint64
	connectFailures  atomic.Uint64
	reconnects       atomic.Uint64
	transportErrors  atomic.Uint64
	bytesRx          atomic.Uint64
	eventsEmitted    atomic.Uint64

	lastActivity   atomic.Int64 // unix nanos, 0 = never
	connectedSince atomic.Int64 // unix nanos, 0 = disconnected

	// -1 means unknown.
	inputs  atomic.Int32
	outputs atomic.Int32
}

func newSessionCounters() *sessionCounters {
	c := &sessionCounters{}
	c.inputs.Store(-1)
	c.outputs.Store(-1)
	return c
}

func loadTime(v *atomic.Int64) *time.Time {
	n := v.Load()
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n)
	return &t
}

func loadMask(v *atomic.Int32) *uint16 {
	n := v.Load()
	if n < 0 {
		return nil
	}
	m := uint16(n)
	return &m
}
