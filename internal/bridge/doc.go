// Package bridge connects Web-IO device sessions to MQTT, telemetry and
// the HTTP API.
//
// # MQTT surface
//
//	webio/command/{device}/{pin}          in: CommandMessage
//	webio/ack/{device}/{pin}              out: AckMessage (queued|failed)
//	webio/state/{device}/output/{pin}     out: StateMessage, retained
//	webio/state/{device}/input/{pin}      out: StateMessage, retained
//	webio/health/{bridge}                 out: HealthMessage, retained
//
// Command example:
//
//	{"id":"c1","action":"pulse","duration_ms":500,"source":"automation"}
//
// An ack of "queued" means the command is in the device's FIFO queue. The
// device's OK/ERROR outcome is recorded in the command log and shows up as
// state changes on the output topics.
//
// # Submission path
//
// MQTT commands and POST /api/v1/devices/{id}/outputs/{pin} both go
// through Bridge.Submit, which validates synchronously and never lets an
// invalid command reach a session.
package bridge
