// Package motor coordinates the RENKEI client with the rest of the service.
//
// The coordinator owns the latest known motor state. It merges push
// updates from the TCP client into a single snapshot, converts raw
// encoder positions into travel percentages, and fans snapshots out to
// subscribers (MQTT bridge, WebSocket hub). It also records position
// history and command audit rows in SQLite and writes telemetry to
// InfluxDB when enabled.
//
// # State Merging
//
// The controller pushes partial updates: a CURRENT_POS event carries
// only the moving position, an ERROR event only fault flags. The
// client deliberately keeps no state, so merging happens here - the
// coordinator applies each update to the last full snapshot keyed by
// the update's event type.
//
// # Resynchronisation
//
// After a reconnect the cached snapshot may be stale (the motor can be
// moved by its wall switch while the link is down). The coordinator
// detects reconnection and issues a fresh GET_STATUS to resync.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package motor
