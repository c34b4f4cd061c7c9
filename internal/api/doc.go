// Package api implements the HTTP REST API and WebSocket server for Pulse Core.
//
// This package provides:
//   - REST endpoints for submitting commands, reading scheduler status and
//     listing devices
//   - Operator endpoints for stop-all, lock, unlock and the audit journal
//   - WebSocket hub broadcasting execution progress and scheduler changes
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Prometheus exposition at /metrics
//
// # Architecture
//
// The API is the command-handling boundary in front of the scheduler. A
// chat front end or pulsectl posts commands on behalf of a requester; the
// HTTP status reflects the admission decision and progress is streamed to
// WebSocket subscribers of the command.* channels.
//
//	202 running_now | queued
//	429 rate limited (Retry-After set)
//	423 locked
//	503 no devices
//	400 validation failure
//	409 already locked / not locked
//	403 operator permission required
//
// # Security
//
// Every route except /health and the metrics endpoints requires a bearer
// token minted with the shared secret. WebSocket connections use
// single-use tickets to prevent token leakage in URLs.
package api
