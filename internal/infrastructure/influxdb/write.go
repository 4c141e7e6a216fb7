package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPinState     = "webio_pin_state"
	MeasurementSessionStats = "webio_session"
)

// SessionSample is one periodic snapshot of a device session.
type SessionSample struct {
	DeviceID   string
	State      string
	Connected  bool
	QueueDepth int
	Counters   map[string]uint64
	At         time.Time
}

// WritePinChange records a single pin transition.
//
// kind is "input" or "output". The value field is 1 for on and 0 for off
// so the series can be graphed as a step function.
func (c *Client) WritePinChange(deviceID, kind string, pin int, on bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(pinChangePoint(deviceID, kind, pin, on, at))
}

// WriteSessionStats records a session snapshot.
func (c *Client) WriteSessionStats(sample SessionSample) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(sessionPoint(sample))
}

func pinChangePoint(deviceID, kind string, pin int, on bool, at time.Time) *write.Point {
	value := 0
	if on {
		value = 1
	}
	return write.NewPoint(
		MeasurementPinState,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
			"pin":       strconv.Itoa(pin),
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func sessionPoint(s SessionSample) *write.Point {
	fields := map[string]interface{}{
		"connected":   s.Connected,
		"queue_depth": s.QueueDepth,
	}
	for name, v := range s.Counters {
		fields[name] = v
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementSessionStats,
		map[string]string{
			"device_id": s.DeviceID,
			"state":     s.State,
		},
		fields,
		at,
	)
}
