package bridge

import (
	"time"

	"github.com/nerrad567/webio-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/webio-bridge/internal/webio"
)

// TelemetryWriter records time-series data. *influxdb.Client implements it.
type TelemetryWriter interface {
	WritePinChange(deviceID, kind string, pin int, on bool, at time.Time)
	WriteSessionStats(sample influxdb.SessionSample)
}

// telemetrySink forwards pin events to a TelemetryWriter.
type telemetrySink struct {
	w TelemetryWriter
}

func (t telemetrySink) HandlePinEvent(ev webio.PinEvent) {
	t.w.WritePinChange(ev.DeviceID, ev.Kind.String(), ev.Pin, ev.On, ev.At)
}

func sampleFromStats(st webio.Stats, at time.Time) influxdb.SessionSample {
	return influxdb.SessionSample{
		DeviceID:   st.DeviceID,
		State:      st.State,
		Connected:  st.Connected,
		QueueDepth: st.QueueDepth,
		Counters: map[string]uint64{
			"commands_sent":      st.CommandsSent,
			"commands_acked":     st.CommandsAcked,
			"commands_rejected":  st.CommandsRejected,
			"commands_timed_out": st.CommandsTimedOut,
			"connect_failures":   st.ConnectFailures,
			"reconnects":         st.Reconnects,
			"transport_errors":   st.TransportErrors,
			"bytes_rx":           st.BytesRx,
			"events_dropped":     st.EventsDropped,
		},
		At: at,
	}
}
