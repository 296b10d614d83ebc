// Package api implements the HTTP REST API and WebSocket server for patchbay.
//
// This package provides:
//   - REST endpoints for the graph snapshot, event history, and patching
//   - WebSocket hub broadcasting every graph mutation on graph.<type> channels
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - chi middleware for request IDs and body limits, plus access logging,
//     panic recovery and CORS
//   - Prometheus scrape endpoint at /metrics
//
// # Architecture
//
// The API server sits between canvas front-ends and the reconciler. Reads
// are served from reconciler snapshots taken on its processing goroutine.
// Connect and disconnect requests are validated there and then forwarded to
// the JACK relay over MQTT; the graph changes when the relay confirms, and
// the resulting notifications reach WebSocket clients through the hub.
//
// # Security
//
// Every /api/v1 route except health, metrics and the WebSocket upgrade needs
// a bearer token minted by `patchbay token`. WebSocket connections use
// single-use tickets to prevent token leakage in URLs.
//
// # Graceful Degradation
//
// The server runs while the relay is offline: reads still work and patch
// requests fail with 503 until the relay returns.
package api
