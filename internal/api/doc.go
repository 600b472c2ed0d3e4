// Package api implements the operator HTTP API and WebSocket feed for hydro-core.
//
// This package provides:
//   - Health endpoint aggregating the store, bus and optional backends
//   - Command issue/lookup and config push endpoints
//   - Notification throttle stats and reset
//   - WebSocket hub broadcasting domain events (it is the event Sink)
//
// # Security
//
// Operator routes require a bearer JWT signed HS256 with security.jwt.secret.
// The token subject is recorded as the command's issued_by. WebSocket clients
// pass the same token as the token query parameter. An empty secret leaves
// everything open, for development.
//
// # Graceful Degradation
//
// The server runs without the bus: commands fail with 503 while the health
// endpoint and the event feed keep working.
package api
