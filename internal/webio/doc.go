// Package webio implements a persistent client for Web-IO digital I/O controllers.
//
// A Web-IO controller exposes 8 digital inputs and 8 digital outputs over a
// line-based ASCII protocol on TCP port 49218. This package keeps one
// connection per controller alive, drains a queue of output commands, and
// turns the controller's input/output bitmasks into per-pin change events.
//
// # Architecture
//
//	┌──────────────┐  RequestOutputChange  ┌──────────────┐   TCP 49218   ┌────────────┐
//	│   callers    │──────────────────────►│   Session    │◄─────────────►│   Web-IO   │
//	│ (switches,   │                       │ (one per     │               │ controller │
//	│  MQTT, API)  │◄──────────────────────│  device)     │               └────────────┘
//	└──────────────┘   PinEvent dispatch   └──────────────┘
//
// # Wire Protocol
//
// Commands are ASCII lines terminated by CR LF:
//
//	output3=on
//	output3=off
//	output3=toggle
//	output3=pulse-500
//	getupdate
//	ping
//
// The controller answers with "OK" or "ERROR" and reports state as
// "inputs=<mask>" and "outputs=<mask>" lines, where bit (pin-1) of the mask
// is the pin state.
//
// # Session States
//
//	Connecting ──ok──► Polling ──transport error──► Connecting
//	     │
//	     └──fail──► Hold ──60s──► Connecting
//
// # Thread Safety
//
// Device and Session methods are safe for concurrent use. Pin-change
// callbacks run on a dispatcher worker, never on the session loop.
package webio
