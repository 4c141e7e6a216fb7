// Package influxdb records Web-IO bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//
//   - webio_pin_state: one point per pin transition (tags device_id, kind,
//     pin; field value 0/1)
//   - webio_session: periodic session snapshots (tags device_id, state;
//     fields connected, queue_depth and the session counters)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePinChange("garage", "output", 3, true, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures are delivered to the SetOnError callback wrapped in
// ErrWriteFailed.
package influxdb
