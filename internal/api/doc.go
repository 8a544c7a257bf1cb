// Package api implements the HTTP REST API and WebSocket server for the
// RENKEI motor service.
//
// This package provides:
//   - REST endpoints for motor commands, status, history, and diagnostics
//   - WebSocket hub for real-time position broadcasts
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between user interfaces (dashboards, mobile apps,
// Node-RED flows) and the motor coordinator. Commands flow from HTTP
// handlers into the coordinator, and position updates flow back through
// the coordinator's subscription fan-out, which the server mirrors to
// WebSocket clients.
//
// # Security
//
// Authentication uses JWT bearer tokens signed with the configured
// secret. An empty secret disables authentication entirely, which is
// the expected mode on a trusted installation network. WebSocket
// connections use single-use tickets so tokens never appear in URLs.
//
// # Graceful Degradation
//
// The server operates while the motor is offline — reads return the
// last known snapshot and commands fail with 503 until the link
// recovers.
package api
