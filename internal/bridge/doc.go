// Package bridge exposes the motor over MQTT.
//
// The bridge sits between the motor coordinator and an MQTT broker. It
// accepts commands from automation platforms on the command topic,
// publishes retained state snapshots whenever the coordinator's view of
// the motor changes, and reports link health on a fixed interval.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Automation    │   MQTT   │  RENKEI Bridge  │
//	│    Platform     │◄────────►│   (this pkg)    │◄──── motor coordinator
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
// All topics live under the renkei/motor/{motor_id}/ prefix:
//
//   - command      — inbound JSON commands (move, absolute_move, stop, jog, refresh)
//   - ack          — one acknowledgement per received command
//   - state        — retained snapshot of position, flags, and connection
//   - availability — retained "online"/"offline" controller availability
//   - health       — periodic link health report with frame counters
//
// # Command Format
//
// Commands are JSON objects with an "action" field:
//
//	{"action": "move", "position": 50, "delay": 5}
//	{"action": "absolute_move", "position": 12000, "delay_ms": 200}
//	{"action": "jog", "count": 3}
//	{"action": "stop"}
//	{"action": "refresh"}
//
// Every command produces an ack on the ack topic carrying the command id
// (if one was supplied), the outcome, and error details on failure.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
