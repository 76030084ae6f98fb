// Package api implements the HTTP REST API and WebSocket server for tuyalink.
//
// This package provides:
//   - REST endpoints for device listing, command dispatch, batches,
//     status refreshes, and on-demand discovery sweeps
//   - WebSocket hub streaming device state and dispatch outcomes
//   - Bearer-token authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between user interfaces and the dispatch engine.
// Commands go straight to the dispatcher; state change events reach
// WebSocket clients via the MQTT relay, mirroring what the MQTT bridge
// publishes.
//
// # Security
//
// Protected routes require an HS256 JWT signed with the configured
// shared secret. WebSocket connections use single-use tickets so tokens
// never appear in URLs. An empty secret disables auth for local
// development.
//
// # Graceful Degradation
//
// The server operates without MQTT (no live WebSocket events, REST
// polling still works) and without a discovery merger (discovery
// endpoints return 404).
package api
