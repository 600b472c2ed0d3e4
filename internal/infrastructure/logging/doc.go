// Package logging is the structured logger shared by every hydro-core
// component, backed by go.uber.org/zap.
//
// Each entry carries service and version. Key/value pairs follow the message:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("node discovered", "node_id", "climate_007", "type", "climate")
//	log.With("component", "liveness").Warn("node offline", "node_id", id)
//
// format "json" suits log shippers and "text" selects zap's console encoder.
// Broker passwords and JWT secrets must never be passed as fields.
package logging
