// Package event holds operator-facing events and the domain event sink.
//
// Two different things share the name:
//
//   - Event records (info, warning, critical, emergency) are persisted in the
//     events table, stay active until resolved and drive notifications.
//   - Domain events (node.discovered, node.status_changed ...) are fire-and-forget
//     notifications passed to a Sink. The websocket hub in package api is the
//     production Sink; LogSink and MultiSink compose around it.
//
// Emergency events are never auto-resolved.
package event
