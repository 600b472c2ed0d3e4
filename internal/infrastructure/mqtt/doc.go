// Package mqtt provides the MQTT bus for hydro-core.
//
// This package manages:
//   - Connection to the broker with a Last Will on the presence topic
//   - Message publishing with QoS guarantees
//   - A topic pattern dispatch table (Router)
//   - A caller-driven inbox: handlers run inside Client.Drive, one at a time
//   - Reconnection with a fixed delay (Supervisor)
//
// # Architecture
//
// Nodes publish on hydro/{kind}/{node_id}; the server answers on
// hydro/command/{node_id} and hydro/config/{node_id}. The retained topic
// hydro/server/status carries "online" or "offline" for the server itself.
//
//	Nodes ↔ MQTT Broker ↔ hydro-core (Supervisor → Client → Router handlers)
//
// Paho's auto-reconnect is off. When a session drops, Drive returns
// ErrConnectionLost and the Supervisor dials a fresh Client, re-subscribing
// every route before treating the session as healthy.
//
// # Usage
//
//	router := mqtt.NewRouter()
//	router.Handle(mqtt.Topics{}.AllOfKind(mqtt.KindHeartbeat), 0, onHeartbeat)
//
//	sup := mqtt.NewSupervisor(router, mqtt.ClientDialer(cfg.MQTT, logger), cfg.MQTT.Reconnect)
//	go sup.Run(ctx)
//
//	sup.Publish(mqtt.Topics{}.Command("relay_004"), payload, 1, false)
package mqtt
