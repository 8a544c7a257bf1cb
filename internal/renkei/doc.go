// Package renkei implements the TCP client for RENKEI PoE motor controllers.
//
// The motor speaks a small newline-delimited JSON protocol on a single
// persistent connection (default port 17002). Commands are correlated to
// responses purely by command name; the device also pushes unsolicited
// status and error frames at any time.
//
// # Architecture
//
//   - Wire codec: encodes commands and decodes inbound frames (codec.go)
//   - Pending table: one waiter per in-flight command name (pending.go)
//   - Connection state machine: owns the socket, the read loop and
//     reconnection (client.go)
//   - Health monitor: periodic GET_INFO probes on idle sessions (health.go)
//   - Dispatcher: routes responses to waiters and pushes to the status
//     callback without blocking the read loop (dispatch.go)
//
// # Usage
//
//	client := renkei.New(renkei.Config{Host: "192.168.1.50"})
//	client.SetConnectionCallback(func(s renkei.ConnectionState) { ... })
//	client.SetStatusCallback(func(u renkei.StatusUpdate) { ... })
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Disconnect()
//
//	status, err := client.GetStatus(ctx)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks are invoked outside
// any client lock and must treat received values as immutable snapshots.
//
// # Reconnection
//
// When the connection is lost the client retries indefinitely at a fixed
// configurable interval. Every command pending at the moment of loss fails
// with ErrConnectionLost; none survives a reconnection boundary.
package renkei
