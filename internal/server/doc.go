// Package server provides the status HTTP API for sitewatch.
//
// Routes:
//
//   - GET /api/targets: JSON list of every target's last known state
//   - GET /api/targets/{id}: one target by its store ID
//   - GET /api/sse: Server-Sent Events stream of state updates
//   - GET /healthz: liveness probe
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
