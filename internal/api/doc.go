// Package api implements the HTTP REST API and WebSocket server for the
// Web-IO bridge.
//
// This package provides:
//   - Device status endpoints backed by the bridge's sessions
//   - Output command submission through the same path as MQTT commands
//   - Pin history and command log reads from SQLite
//   - A WebSocket hub streaming pin changes and command outcomes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{id}
//	POST /api/v1/devices/{id}/outputs/{pin}   {"action":"pulse","duration_ms":500}
//	GET  /api/v1/devices/{id}/history?limit=
//	GET  /api/v1/devices/{id}/commands?limit=
//	GET  /api/v1/ws
//
// A 202 from the outputs endpoint means the command is queued, not that
// the device has switched. Watch the pin.changed channel for that.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
